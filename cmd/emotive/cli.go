package main

import (
	"flag"
	"time"
)

type runtimeOptions struct {
	configPath  string
	bulbAddr    string
	deviceIndex int
	sampleRate  float64
	channels    int
	latency     time.Duration
	visualize   bool
	debug       bool
	noHyprland  bool
}

func parseCLIFlags() runtimeOptions {
	var (
		cfg       runtimeOptions
		latencyMs int
	)

	flag.StringVar(&cfg.configPath, "config", "", "path to config.toml (default: $XDG_CONFIG_HOME/emotive-engine/config.toml)")
	flag.StringVar(&cfg.bulbAddr, "bulb", "", "also drive a yeelight bulb at this address (ip[:port], default port 55443)")
	flag.IntVar(&cfg.deviceIndex, "device", -1, "audio input device index (leave blank to choose interactively)")
	flag.Float64Var(&cfg.sampleRate, "sample-rate", 0, "capture sample rate (0 = config value)")
	flag.IntVar(&cfg.channels, "channels", 2, "number of input channels to capture (<= device max)")
	flag.IntVar(&latencyMs, "latency-ms", 0, "override input latency in milliseconds (0 = device default)")
	flag.BoolVar(&cfg.noHyprland, "no-hyprland", false, "do not set hyprland keywords")
	flag.BoolVar(&cfg.debug, "debug", false, "enable debug logging")
	flag.BoolVar(&cfg.visualize, "visualize", false, "render realtime terminal visualization (logs go to stderr)")
	flag.Parse()

	cfg.latency = time.Duration(latencyMs) * time.Millisecond

	return cfg
}
