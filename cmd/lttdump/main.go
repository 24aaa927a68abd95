// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Lttdump prints the events in an LTTV kernel trace and, optionally, the
// process state reconstructed by replaying them.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/polymtl/lttreplay/ltt"
	"github.com/polymtl/lttreplay/ltvstate"
)

func main() {
	var (
		flagDir      = flag.String("dir", "", "trace `directory`")
		flagFacility = flag.String("facilities", "", "directory of facility XML `schemas`")
		flagState    = flag.Bool("state", false, "replay process state alongside events")
		flagSnapshot = flag.Int("snapshot-every", 10000, "events between state snapshots")
		flagNumCPUs  = flag.Int("cpus", 0, "number of CPUs (0: infer from tracefile groups)")
	)
	flag.Parse()
	if *flagDir == "" || flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	schemas := ltt.DirSchemaSource{Dir: *flagFacility}
	tr, err := ltt.OpenTrace(*flagDir, schemas)
	if err != nil {
		log.Fatal(err)
	}
	defer tr.Close()

	numCPUs := *flagNumCPUs
	if numCPUs == 0 {
		numCPUs = countCPUs(tr)
	}

	var sess *ltvstate.Session
	var snaps *ltvstate.SnapshotStore
	if *flagState {
		sess = ltvstate.New(numCPUs)
		snaps = ltvstate.NewSnapshotStore(*flagSnapshot)
	}

	count := 0
	for name, group := range tr.Groups {
		for _, tf := range group {
			r, err := ltt.NewReader(tf, tr.Registry)
			if err != nil {
				log.Fatalf("%s: %v", name, err)
			}
			for {
				ev, err := r.Next()
				if err == ltt.EndOfTrace {
					break
				}
				if err != nil {
					log.Fatalf("%s: %v", name, err)
				}
				fmt.Printf("cpu=%d tsc=%d %s.%s %+v\n",
					ev.CPU, ev.TSC, ev.Facility.Name, ev.EventType.Name, ev.Fields)

				if sess != nil {
					if err := sess.Update(ev); err != nil {
						log.Printf("state update: %v", err)
					}
					count++
					snaps.Observe(sess, count, uint64(ev.TSC))
				}
			}
		}
	}
}

func countCPUs(tr *ltt.Trace) int {
	max := 0
	for _, group := range tr.Groups {
		if len(group) > max {
			max = len(group)
		}
	}
	return max
}
