package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/argriffing/jsonctmctree/ctmclib"
)

// Reads a scene, replaces its iid_observations with values simulated
// from the scene's own processes, and writes the scene back out.  The
// scene's observed node/variable template determines what is recorded.

func main() {

	var inname, outname string
	flag.StringVar(&inname, "scene", "", "Input JSON file with a scene")
	flag.StringVar(&outname, "out", "", "Output JSON file (default stdout)")

	var nsites int
	flag.IntVar(&nsites, "nsites", 0, "Number of sites to simulate")

	var seed int64
	flag.Int64Var(&seed, "seed", 0, "Random seed (default from clock)")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.Ltime)

	if inname == "" {
		logger.Fatal("'scene' is required")
	}
	if nsites <= 0 {
		logger.Fatal("'nsites' must be positive")
	}
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}

	fid, err := os.Open(inname)
	if err != nil {
		logger.Fatal(err)
	}

	var scene ctmclib.Scene
	if err := json.NewDecoder(fid).Decode(&scene); err != nil {
		logger.Fatal(err)
	}
	fid.Close()

	rng := rand.New(rand.NewSource(seed))
	obs, err := ctmclib.SampleObservations(&scene, nsites, rng)
	if err != nil {
		logger.Fatal(err)
	}
	scene.ObservedData.IIDObservations = obs

	wtr := os.Stdout
	if outname != "" {
		wtr, err = os.Create(outname)
		if err != nil {
			logger.Fatal(err)
		}
		defer wtr.Close()
	}

	enc := json.NewEncoder(wtr)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&scene); err != nil {
		logger.Fatal(err)
	}
}
