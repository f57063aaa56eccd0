package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danl5/gorcv"
	"github.com/danl5/gorcv/pkg/config"
	"github.com/danl5/gorcv/pkg/log"
)

var (
	outputPath = flag.String("o", "./fsm_visual", "output path")
)

func main() {
	flag.Parse()

	e, err := gorcv.NewElection(&config.Config{
		Candidates: []string{"visual"},
		Deadline:   time.Now().Add(time.Hour),
	}, log.Discard())
	if err != nil {
		panic(err)
	}
	defer e.Close()
	visualStr := e.Visualize()

	f, err := os.OpenFile(*outputPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	_, err = f.WriteString(visualStr)
	if err != nil {
		panic(err)
	}

	fmt.Println("Visualization finished")
}
