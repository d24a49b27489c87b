package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"

	"github.com/argriffing/jsonctmctree/ctmclib"
)

func main() {

	var inname, outname string
	flag.StringVar(&inname, "in", "", "Input JSON file with scene and requests (default stdin)")
	flag.StringVar(&outname, "out", "", "Output JSON file (default stdout)")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.Ltime)

	var rdr io.Reader = os.Stdin
	if inname != "" {
		fid, err := os.Open(inname)
		if err != nil {
			logger.Fatal(err)
		}
		defer fid.Close()
		rdr = fid
	}

	var in ctmclib.Input
	if err := json.NewDecoder(rdr).Decode(&in); err != nil {
		logger.Fatal(err)
	}

	out, err := ctmclib.Process(&in)
	if err != nil {
		logger.Fatal(err)
	}

	var wtr io.Writer = os.Stdout
	if outname != "" {
		fid, err := os.Create(outname)
		if err != nil {
			logger.Fatal(err)
		}
		defer fid.Close()
		wtr = fid
	}

	enc := json.NewEncoder(wtr)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatal(err)
	}
}
