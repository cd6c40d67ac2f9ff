// Command btserial opens a dive computer over Bluetooth RFCOMM (or a local
// serial device) and lets you check the link, dump bytes, or bridge it to
// TCP for download software running elsewhere.
//
//	btserial devices
//	btserial ports
//	btserial check 00:11:22:33:44:55
//	btserial read -n 64 00:11:22:33:44:55
//	btserial bridge --listen :8866 00:11:22:33:44:55
//	btserial bridge --dial 10.0.0.2:8866 --socks5 127.0.0.1:1080 00:11:22:33:44:55
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"dosgo/btSerial/comm"
	"dosgo/btSerial/comm/bluez"
	"dosgo/btSerial/dc"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: btserial [flags] devices|ports|check|read|bridge [address]\n\nflags:\n")
	pflag.PrintDefaults()
}

func main() {
	var (
		configPath     string
		backend        string
		logLevel       string
		timeout        time.Duration
		connectTimeout time.Duration
		slowTimeout    time.Duration
		idleTimeout    time.Duration
		channels       []int
		count          int
		listen         string
		dial           string
		socks5         string
	)
	pflag.StringVarP(&configPath, "config", "c", comm.DefaultConfigFile, "config file")
	pflag.StringVarP(&backend, "backend", "b", "", "transport backend: "+strings.Join(dc.Backends(), "|"))
	pflag.StringVar(&logLevel, "log-level", "", "none|error|warning|info|debug|all")
	pflag.DurationVarP(&timeout, "timeout", "t", 0, "read/write timeout (negative blocks)")
	pflag.DurationVar(&connectTimeout, "connect-timeout", 0, "first wait per RFCOMM channel")
	pflag.DurationVar(&slowTimeout, "slow-timeout", 0, "extra wait for a channel still connecting")
	pflag.DurationVar(&idleTimeout, "idle-timeout", 0, "bound on waiting for more data when reads block")
	pflag.IntSliceVar(&channels, "channels", nil, "RFCOMM channels to try in order")
	pflag.IntVarP(&count, "count", "n", 16, "bytes to read (read)")
	pflag.StringVarP(&listen, "listen", "l", "", "TCP address to serve the link on (bridge)")
	pflag.StringVar(&dial, "dial", "", "TCP address to connect the link to (bridge)")
	pflag.StringVar(&socks5, "socks5", "", "SOCKS5 proxy for --dial")
	pflag.Usage = usage
	pflag.Parse()

	dctx := dc.NewContext()
	cfg := comm.LoadConfig(dctx, configPath)

	fs := pflag.CommandLine
	if fs.Changed("backend") {
		cfg.Backend = backend
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if fs.Changed("timeout") {
		cfg.ReadTimeout = comm.Duration(timeout)
	}
	if fs.Changed("connect-timeout") {
		cfg.ConnectTimeout = comm.Duration(connectTimeout)
	}
	if fs.Changed("slow-timeout") {
		cfg.SlowConnectTimeout = comm.Duration(slowTimeout)
	}
	if fs.Changed("idle-timeout") {
		cfg.IdleTimeout = comm.Duration(idleTimeout)
	}
	if fs.Changed("channels") {
		cfg.Channels = channels
	}
	if !fs.Changed("listen") && dial == "" {
		listen = fmt.Sprintf(":%d", cfg.BridgePort)
	}
	dctx.SetLogLevel(dc.ParseLogLevel(cfg.LogLevel))

	args := pflag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	if len(args) > 1 {
		if cfg.Backend == "serial" {
			cfg.SerialPort = args[1]
		} else {
			cfg.BluetoothMAC = args[1]
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch args[0] {
	case "devices":
		err = listDevices(ctx)
	case "ports":
		err = listPorts()
	case "check":
		err = checkLink(ctx, dctx, cfg)
	case "read":
		err = readBytes(ctx, dctx, cfg, count)
	case "bridge":
		err = bridge(ctx, dctx, cfg, listen, dial, socks5)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "btserial: %v (status %d)\n", err, int(dc.StatusOf(err)))
		os.Exit(1)
	}
}

func listDevices(ctx context.Context) error {
	devices, err := bluez.Devices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		flags := ""
		if d.Paired {
			flags += "P"
		}
		if d.Connected {
			flags += "C"
		}
		if d.SerialPort {
			flags += "S"
		}
		fmt.Printf("%s  %-3s %s\n", d.Address, flags, d.DisplayName())
	}
	return nil
}

func listPorts() error {
	ports, err := comm.ListSerialPorts()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func checkLink(ctx context.Context, dctx *dc.Context, cfg *comm.Config) error {
	start := time.Now()
	s, err := cfg.Open(ctx, dctx)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("connected to %s over %s in %s\n", cfg.DeviceName(), s.Type, time.Since(start).Round(time.Millisecond))
	if n, err := s.Received(); err == nil {
		fmt.Printf("received: %d bytes buffered\n", n)
	}
	if n, err := s.Transmitted(); err == nil {
		fmt.Printf("transmitted: %d bytes queued\n", n)
	}
	return nil
}

func readBytes(ctx context.Context, dctx *dc.Context, cfg *comm.Config, count int) error {
	if count <= 0 {
		return fmt.Errorf("count must be positive: %w", dc.InvalidArgs)
	}
	s, err := cfg.Open(ctx, dctx)
	if err != nil {
		return err
	}
	defer s.Close()

	buf := make([]byte, count)
	if _, err := s.Read(ctx, buf); err != nil {
		return err
	}
	fmt.Print(hex.Dump(buf))
	return nil
}

func bridge(ctx context.Context, dctx *dc.Context, cfg *comm.Config, listen, dial, socks5 string) error {
	s, err := cfg.Open(ctx, dctx)
	if err != nil {
		return err
	}
	defer s.Close()

	b := comm.NewBridge(dctx, s)
	if dial != "" {
		return b.Dial(ctx, dial, socks5)
	}
	if err := b.Listen(listen); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "bridging %s on %s\n", cfg.DeviceName(), b.Addr())
	return b.Serve(ctx)
}
