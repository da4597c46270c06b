// Command segmenter-demo serves the built-in demo segmentation engine
// as an out-of-process plugin. Point MASKTRACE_ENGINE=plugin and
// MASKTRACE_ENGINE_PLUGIN at this binary to exercise the plugin
// transport without the real model.
package main

import (
	"flag"
	"os"

	"github.com/videoseg/masktrace/internal/logger"
	"github.com/videoseg/masktrace/internal/segmentation"
)

func main() {
	model := flag.String("model", "tiny", "model size to emulate")
	flag.Parse()

	engine, err := segmentation.NewDemoEngine(*model, logger.New("segmenter-demo"))
	if err != nil {
		logger.Error("failed to create engine: %v", err)
		os.Exit(1)
	}

	segmentation.Serve(engine)
}
