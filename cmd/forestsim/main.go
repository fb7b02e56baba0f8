// forestsim drives a simulated chain of adds and deletes against a full
// Forest and a stateless Pollard in lockstep, and complains loudly if their
// root sequences ever disagree.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"
	"github.com/jrick/logrotate/rotator"

	"github.com/mit-dci/merkleforest/accumulator"
)

type config struct {
	Blocks       int    `short:"n" long:"blocks" default:"1000" description:"how many blocks to simulate"`
	BlockAdds    uint32 `long:"adds" default:"8" description:"leaves added per block"`
	LifeMask     uint32 `long:"lifemask" default:"63" description:"mask capping how many blocks a leaf lives"`
	ForestType   string `long:"forest" default:"ram" choice:"ram" choice:"leveldb" description:"forest store backend"`
	DataDir      string `long:"datadir" default:"" description:"directory for the leveldb forest store"`
	LogFile      string `long:"logfile" default:"" description:"also write logs to this rotated file"`
	HasherName   string `long:"hasher" default:"sha256" choice:"sha256" choice:"blake2b" description:"hash function"`
	Batch        bool   `long:"batch" description:"delete with RemoveBatch instead of one at a time"`
	Debug        bool   `short:"d" long:"debug" description:"debug logging"`
	EveryNStatus int    `long:"status" default:"100" description:"log a status line every n blocks"`
}

var logRotator *rotator.Rotator

// logWriter duplicates log output to stdout and, when configured, the
// rotated log file.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "forestsim: %s\n", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg := config{}
	if _, err := flags.Parse(&cfg); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return err
	}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0700); err != nil {
			return err
		}
		r, err := rotator.New(cfg.LogFile, 10*1024, false, 3)
		if err != nil {
			return fmt.Errorf("failed to create log rotator: %s", err.Error())
		}
		defer r.Close()
		logRotator = r
	}

	backend := btclog.NewBackend(logWriter{})
	log := backend.Logger("SIM")
	acclog := backend.Logger("ACCM")
	level := btclog.LevelInfo
	if cfg.Debug {
		level = btclog.LevelDebug
	}
	log.SetLevel(level)
	acclog.SetLevel(level)
	accumulator.UseLogger(acclog)

	var hasher accumulator.Hasher
	switch cfg.HasherName {
	case "blake2b":
		hasher = accumulator.Blake2b256Hasher{}
	default:
		hasher = accumulator.Sha256Hasher{}
	}

	var data accumulator.ForestData
	if cfg.ForestType == "leveldb" {
		dir := cfg.DataDir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "forestsim")
		}
		var err error
		data, err = accumulator.NewLevelDbForestData(dir)
		if err != nil {
			return fmt.Errorf("failed to open forest store: %s", err.Error())
		}
	}

	f := accumulator.NewForest(data, hasher)
	defer f.Close()

	// The pollard lockstep only works with per-removal proofs; batch mode
	// exercises the coordinator on the forest alone.
	var p *accumulator.Pollard
	if !cfg.Batch {
		p = accumulator.NewPollard(hasher)
	}

	sc := accumulator.NewSimChain(cfg.LifeMask)
	for b := 0; b < cfg.Blocks; b++ {
		adds, delHashes := sc.NextBlock(cfg.BlockAdds)

		if cfg.Batch {
			if err := batchDelete(f, delHashes); err != nil {
				return fmt.Errorf("block %d: %s", b, err.Error())
			}
		} else {
			if err := serialDelete(f, p, delHashes); err != nil {
				return fmt.Errorf("block %d: %s", b, err.Error())
			}
		}

		for _, add := range adds {
			if err := f.Add(add); err != nil {
				return fmt.Errorf("block %d: %s", b, err.Error())
			}
			if p != nil {
				if err := p.Add(add); err != nil {
					return fmt.Errorf("block %d: %s", b, err.Error())
				}
			}
		}

		if p != nil {
			if err := compareRoots(f, p); err != nil {
				return fmt.Errorf("block %d: %s", b, err.Error())
			}
		}
		if cfg.EveryNStatus > 0 && b%cfg.EveryNStatus == 0 {
			log.Infof("block %d: added %d deleted %d; %s",
				b, len(adds), len(delHashes), f.Stats())
		}
	}
	log.Infof("done: %s", f.Stats())
	return nil
}

// serialDelete removes leaves one at a time, keeping the pollard in step
// with a fresh proof per removal.
func serialDelete(f *accumulator.Forest, p *accumulator.Pollard, dels []accumulator.Hash) error {
	for _, del := range dels {
		pr, err := f.ProveHash(del)
		if err != nil {
			return err
		}
		if _, err := p.ApplyRemove(pr); err != nil {
			return err
		}
		if _, err := f.Remove(pr.Position, pr); err != nil {
			return err
		}
	}
	return nil
}

// batchDelete proves all of a block's deletions against the same pre-batch
// forest state and hands them to RemoveBatch in one call.
func batchDelete(f *accumulator.Forest, dels []accumulator.Hash) error {
	proofs := make([]accumulator.Proof, len(dels))
	for i, del := range dels {
		pr, err := f.ProveHash(del)
		if err != nil {
			return err
		}
		proofs[i] = pr
	}
	_, err := f.RemoveBatch(proofs)
	return err
}

func compareRoots(f *accumulator.Forest, p *accumulator.Pollard) error {
	fr, err := f.Roots()
	if err != nil {
		return err
	}
	pr := p.Roots()
	if len(fr) != len(pr) {
		return fmt.Errorf("forest has %d roots, pollard %d", len(fr), len(pr))
	}
	for i := range fr {
		if fr[i] != pr[i] {
			return fmt.Errorf("root %d: forest (h%d) %x, pollard (h%d) %x",
				i, fr[i].Height, fr[i].Hash.Prefix(),
				pr[i].Height, pr[i].Hash.Prefix())
		}
	}
	return nil
}
