package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netdrift/l3domain/config"
	"github.com/netdrift/l3domain/l3domain"
	"github.com/netdrift/l3domain/log"
	"github.com/netdrift/l3domain/nlsys"
)

const (
	appName    = "l3domaind"
	appVersion = "0.3.0"
)

var (
	configFile = config.DefaultPath
	logFile    = ""
	netNS      = ""
	debug      = false
	oneshot    = false

	sigChan chan os.Signal
	stopCh  chan struct{}
)

func init() {
	flag.StringVar(&configFile, "config", configFile, "Path of the configuration file.")
	flag.StringVar(&logFile, "log-file", logFile, "Write logs to this file instead of the standard output.")
	flag.StringVar(&netNS, "netns", netNS, "Network namespace to watch instead of the current one.")
	flag.BoolVar(&debug, "debug", debug, "Enable debug logs.")
	flag.BoolVar(&oneshot, "oneshot", oneshot, "Dump domain membership of every device and exit.")
}

func setupLogging(cfg *config.Config) {
	cfg.Apply()
	if debug {
		log.SetLogLevel(log.DEBUG)
	}
	if logFile != "" {
		if err := log.OpenFile(logFile); err != nil {
			log.Fatal("%s", err)
		}
	}
}

func setupSignals(monitor *nlsys.Monitor, watcher *config.Watcher) {
	sigChan = make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sigChan
		log.Raw("\n")
		log.Important("Got signal: %v", sig)
		doCleanup(monitor, watcher)
		os.Exit(0)
	}()
}

func doCleanup(monitor *nlsys.Monitor, watcher *config.Watcher) {
	log.Info("Cleaning up ...")
	if stopCh != nil {
		close(stopCh)
	}
	if watcher != nil {
		watcher.Stop()
	}
	if err := monitor.Close(); err != nil {
		log.Error("Error shutting down the device monitor: %s", err)
	}
	log.Close()
}

// dumpDevices prints one line per device: which master governs it and
// which forwarding table applies. The whole dump runs inside one
// read-side critical section: the monitor's event loop mutates the
// snapshot concurrently and detaches removed devices after a grace
// period, which only covers readers inside a section.
func dumpDevices(monitor *nlsys.Monitor) {
	section := l3domain.ReadLock()
	defer l3domain.ReadUnlock(section)

	for _, idx := range monitor.DeviceIndexes() {
		master := l3domain.MasterIndexByIndex(monitor, idx)
		table := l3domain.FibTableByIndex(monitor, idx)

		if master == 0 {
			log.Raw("%4d %-16s -\n", idx, monitor.DeviceName(idx))
			continue
		}
		log.Raw("%4d %-16s master %s (%d) table %d\n",
			idx, monitor.DeviceName(idx), log.Bold(monitor.DeviceName(master)), master, table)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warning("Could not load %s: %s", configFile, err)
		}
		return config.Default()
	}
	return cfg
}

func main() {
	flag.Parse()

	cfg := loadConfig()
	setupLogging(cfg)

	log.Important("Starting %s v%s", appName, appVersion)

	if netNS == "" {
		netNS = cfg.NetNS
	}

	registry := l3domain.NewRegistry()
	monitor, err := nlsys.NewMonitor(registry, nlsys.Config{
		NetNS:          netNS,
		ResyncInterval: time.Duration(cfg.ResyncIntervalSeconds) * time.Second,
	})
	if err != nil {
		log.Fatal("%s", err)
	}

	if oneshot {
		dumpDevices(monitor)
		monitor.Close()
		return
	}

	watcher, err := config.NewWatcher(configFile, func(newCfg *config.Config) {
		setupLogging(newCfg)
	})
	if err != nil {
		log.Debug("Not watching the configuration: %s", err)
		watcher = nil
	}

	setupSignals(monitor, watcher)

	stopCh = make(chan struct{})
	go monitor.Run(stopCh)

	log.Info("Watching domain masters%s ...", nsSuffix())
	dumpDevices(monitor)

	// the monitor does the work from here on; hold the main goroutine
	// until a signal arrives
	select {}
}

func nsSuffix() string {
	if netNS == "" {
		return ""
	}
	return " in namespace " + netNS
}
