package cmd

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/lettucelabs/lettuce/internal/abort"
	"github.com/lettucelabs/lettuce/internal/config"
	"github.com/lettucelabs/lettuce/internal/sync"
	"github.com/lettucelabs/lettuce/pkg/syncwire"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy app data to and from another device on the local network",
	}
	cmd.AddCommand(syncServeCmd())
	cmd.AddCommand(syncJoinCmd())
	cmd.AddCommand(syncStatusCmd())
	return cmd
}

// --- sync serve ---

func syncServeCmd() *cobra.Command {
	var port int
	var pin string
	var noApproval bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for another device and drive the sync",
		Run: func(cmd *cobra.Command, args []string) {
			runSyncServe(port, pin, noApproval)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	cmd.Flags().StringVar(&pin, "pin", "", "pairing PIN both devices must enter")
	cmd.Flags().BoolVar(&noApproval, "no-approval", false, "accept any peer that knows the PIN")
	return cmd
}

func runSyncServe(port int, pin string, noApproval bool) {
	a := openApp()
	defer a.Close()

	if pin == "" {
		fatalf("--pin is required (at least 4 characters, same on both devices)")
	}
	if port == 0 {
		port = a.Config.Sync.Port
	}

	eng := a.NewSyncEngine(abort.NewRegistry())
	if noApproval {
		eng.SetRequireApproval(false)
	}
	addr, err := eng.StartDriver(port, pin)
	if err != nil {
		fatalf("start listener: %s", err)
	}
	defer eng.Stop()

	// Config edits take effect while listening; --no-approval still wins.
	if w, werr := a.WatchConfig(func(cfg *config.Config) {
		eng.SetRequireApproval(cfg.Sync.RequireApproval && !noApproval)
	}); werr == nil {
		defer w.Stop()
	}

	fmt.Printf("Listening on %s\n", addr)
	if qr, err := qrcode.New(eng.PairingURI(), qrcode.Medium); err == nil {
		fmt.Println()
		fmt.Print(qr.ToSmallString(false))
	}
	fmt.Println("On the other device, scan the code or run:")
	fmt.Printf("  lettuce sync join %s --pin <pin>\n\n", addr)
	fmt.Println("Waiting for a device. Ctrl-C to stop.")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	for {
		select {
		case st := <-eng.Events():
			printSyncStatus(st)
			if st.Phase == sync.PhaseApprovalRequired {
				ok, perr := promptConfirm(fmt.Sprintf("Allow %s to sync with this device?", st.PeerIP), false)
				if perr != nil {
					ok = false
				}
				if err := eng.ApproveConnection(st.PeerIP, ok); err != nil {
					fmt.Println("Approval window expired.")
				}
			}
		case <-sigs:
			fmt.Println("\nStopping.")
			return
		}
	}
}

// --- sync join ---

func syncJoinCmd() *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "join <host:port>",
		Short: "Connect to a listening device and sync with it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runSyncJoin(args[0], pin)
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "pairing PIN shown on the listening device")
	return cmd
}

func runSyncJoin(target, pin string) {
	a := openApp()
	defer a.Close()

	if pin == "" {
		fatalf("--pin is required (at least 4 characters, same on both devices)")
	}
	// Accept both a bare host:port and the pairing URI from the QR code.
	target = strings.TrimPrefix(target, sync.URIScheme+"://")
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		fatalf("address %q: %s", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		fatalf("port %q: %s", portStr, err)
	}

	eng := a.NewSyncEngine(abort.NewRegistry())

	done := make(chan error, 1)
	go func() { done <- eng.ConnectPassenger(host, port, pin) }()
	for {
		select {
		case st := <-eng.Events():
			printSyncStatus(st)
		case err := <-done:
			if err != nil {
				fatalf("sync failed: %s", err)
			}
			fmt.Println("Sync complete.")
			return
		}
	}
}

// --- sync status ---

func syncStatusCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what a sync would cover on this device",
		Run: func(cmd *cobra.Command, args []string) {
			runSyncStatus(jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

type layerStatus struct {
	Layer string `json:"layer"`
	Rows  int    `json:"rows"`
}

type syncStatusReport struct {
	Device     string        `json:"device"`
	Protocol   uint32        `json:"protocol"`
	Layers     []layerStatus `json:"layers"`
	TotalRows  int           `json:"total_rows"`
	MediaFiles int           `json:"media_files"`
}

func runSyncStatus(jsonOutput bool) {
	a := openApp()
	defer a.Close()

	manifest, err := a.Store.BuildManifest(syncwire.LayerOrder)
	if err != nil {
		fatalf("build manifest: %s", err)
	}

	report := syncStatusReport{
		Device:   a.Config.DeviceName,
		Protocol: syncwire.ProtocolVersion,
	}
	for _, layer := range syncwire.LayerOrder {
		n := len(manifest[layer])
		report.Layers = append(report.Layers, layerStatus{Layer: string(layer), Rows: n})
		report.TotalRows += n
	}
	report.MediaFiles = countMediaFiles(a.Paths.MediaDir)

	if jsonOutput {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fatalf("%s", err)
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("Device: %s (sync protocol %d)\n\n", report.Device, report.Protocol)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LAYER\tROWS")
	for _, ls := range report.Layers {
		fmt.Fprintf(w, "%s\t%d\n", ls.Layer, ls.Rows)
	}
	w.Flush()
	fmt.Printf("\n%d rows across %d layers, %d media files.\n", report.TotalRows, len(report.Layers), report.MediaFiles)
}

func countMediaFiles(dir string) int {
	n := 0
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	return n
}

// --- Shared display ---

func printSyncStatus(st sync.Status) {
	line := "  " + string(st.Phase)
	if st.Progress != "" {
		line += ": " + st.Progress
	}
	if st.PeerIP != "" {
		line += "  [" + st.PeerIP + "]"
	}
	fmt.Println(line)
}
