package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/golang/glog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bigbag/boardflash/internal/board"
	"github.com/bigbag/boardflash/internal/detect"
	"github.com/bigbag/boardflash/internal/engine"
	"github.com/bigbag/boardflash/internal/firmware"
	"github.com/bigbag/boardflash/internal/serial"
	"github.com/bigbag/boardflash/internal/upload"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	boardFlag      string
	boardsFileFlag string
	portFlag       string
	baudFlag       int
	journalFlag    string
	quietFlag      bool
)

func main() {
	// glog writes to files by default; a CLI wants stderr.
	flag.Set("logtostderr", "true")
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	rootCmd := &cobra.Command{
		Use:   "boardflash",
		Short: "Upload firmware to microcontroller boards over a serial bootloader",
		Long: `boardflash uploads firmware images to development boards through their
serial bootloaders: SAM-BA (Arduino SAMD), STK500v1 (AVR Optiboot) and the
ESP ROM loader.

Boards are described by a built-in catalog; use --boards-file to add boards
or override built-in entries by name.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&boardsFileFlag, "boards-file", "", "YAML board catalog merged over the built-in one")
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)

	uploadCmd := &cobra.Command{
		Use:   "upload <firmware>",
		Short: "Upload firmware to a board",
		Long: `Upload a firmware image to a board.

The image may be a raw binary, Intel HEX (.hex) or UF2 (.uf2). It is written
at the board's flash base, verified, and started.`,
		Args: cobra.ExactArgs(1),
		RunE: runUpload,
	}
	uploadCmd.Flags().StringVarP(&boardFlag, "board", "B", "", "Board name from the catalog (required)")
	uploadCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	uploadCmd.Flags().IntVarP(&baudFlag, "baud", "b", 0, "Override the board's baud rate")
	uploadCmd.Flags().StringVar(&journalFlag, "journal", "", "Write every exchange with the bootloader to this CSV file")
	uploadCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Do not show a progress bar")
	uploadCmd.MarkFlagRequired("board")

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Find ports where a board's bootloader answers",
		RunE:  runProbe,
	}
	probeCmd.Flags().StringVarP(&boardFlag, "board", "B", "", "Board name from the catalog (required)")
	probeCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Probe only this port")
	probeCmd.Flags().IntVarP(&baudFlag, "baud", "b", 0, "Override the board's baud rate")
	probeCmd.MarkFlagRequired("board")

	boardsCmd := &cobra.Command{
		Use:   "boards",
		Short: "List known boards",
		RunE:  runBoards,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("boardflash %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(uploadCmd, probeCmd, boardsCmd, listCmd, versionCmd)

	err := rootCmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}

func loadCatalog() (*board.Catalog, error) {
	catalog, err := board.Default()
	if err != nil {
		return nil, err
	}
	if boardsFileFlag != "" {
		user, err := board.LoadFile(boardsFileFlag)
		if err != nil {
			return nil, err
		}
		catalog.Merge(user)
	}
	return catalog, nil
}

func lookupBoard() (board.Descriptor, error) {
	catalog, err := loadCatalog()
	if err != nil {
		return board.Descriptor{}, err
	}
	desc, err := catalog.Lookup(boardFlag)
	if err != nil {
		return board.Descriptor{}, err
	}
	if baudFlag > 0 {
		desc.BaudRate = baudFlag
	}
	return desc, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	desc, err := lookupBoard()
	if err != nil {
		return err
	}

	img, err := firmware.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Firmware: %s (%d bytes)\n", args[0], img.Len())
	if origin, ok := img.Origin(); ok && origin != desc.FlashBase {
		fmt.Printf("Warning: image is linked for 0x%X, board flash starts at 0x%X\n", origin, desc.FlashBase)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	portName := portFlag
	if portName == "" {
		fmt.Printf("Detecting %s...\n", desc.Name)
		res, err := detect.New().Find(ctx, desc)
		if err != nil {
			return fmt.Errorf("device detection failed: %w", err)
		}
		portName = res.Port
		fmt.Printf("Found %s on %s\n", res.Info, res.Port)
	}

	// A board found by probing is already sitting in its bootloader.
	openDesc := desc
	if portFlag == "" {
		openDesc.Touch1200 = false
	}
	if openDesc.Touch1200 {
		fmt.Printf("Resetting %s into the bootloader...\n", portName)
	}
	ch, err := detect.Open(portName, openDesc)
	if err != nil {
		return err
	}
	defer ch.Close()
	fmt.Printf("Board: %s (%s) on %s @ %d baud\n", desc.Name, desc.Family, portName, desc.BaudRate)

	opts := []upload.Option{}
	var csvOut *engine.CSVWriter
	if journalFlag != "" {
		f, err := os.Create(journalFlag)
		if err != nil {
			return fmt.Errorf("failed to create journal: %w", err)
		}
		defer f.Close()
		csvOut = engine.NewCSVWriter(f)
		opts = append(opts, upload.WithJournalSink(csvOut.Add))
	}

	var bar *progressbar.ProgressBar
	if !quietFlag {
		bar = progressbar.NewOptions(img.Len(),
			progressbar.OptionSetDescription("Uploading"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		opts = append(opts, upload.WithProgress(func(done, total int, _ time.Duration) {
			bar.Set(done)
		}))
	}

	res, err := upload.New(opts...).Upload(ctx, img, desc, ch)
	if bar != nil {
		bar.Finish()
	}
	if csvOut != nil {
		if ferr := csvOut.Flush(); ferr != nil {
			fmt.Printf("Warning: journal: %v\n", ferr)
		}
	}
	if err != nil {
		var f *upload.Failure
		if errors.As(err, &f) {
			fmt.Fprint(os.Stderr, "\n"+f.Report())
		}
		return err
	}

	fmt.Printf("\nUploaded %d bytes in %d chunks (%v)\n", res.BytesWritten, res.Chunks, res.Duration.Round(time.Millisecond))
	fmt.Println("Done!")
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	desc, err := lookupBoard()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p := detect.New()
	if portFlag != "" {
		res, err := p.ProbePort(ctx, portFlag, desc)
		if err != nil {
			return fmt.Errorf("failed to detect %s on %s: %w", desc.Name, portFlag, err)
		}
		printResult(res)
		return nil
	}

	fmt.Printf("Scanning for %s bootloaders...\n", desc.Family)
	results, err := p.Scan(ctx, desc)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No bootloader answered")
		return nil
	}

	fmt.Printf("Found %d device(s):\n\n", len(results))
	for i := range results {
		fmt.Printf("Device %d:\n", i+1)
		printResult(&results[i])
		fmt.Println()
	}
	return nil
}

func printResult(r *detect.Result) {
	fmt.Printf("  Port:     %s\n", r.Port)
	fmt.Printf("  Protocol: %s\n", r.Family)
	if r.Info != "" {
		fmt.Printf("  Device:   %s\n", r.Info)
	}
	if r.ChipID != 0 {
		fmt.Printf("  Chip ID:  0x%02X\n", r.ChipID)
	}
}

func runBoards(cmd *cobra.Command, args []string) error {
	catalog, err := loadCatalog()
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %-8s %-10s %s\n", "NAME", "FAMILY", "FLASH", "BAUD")
	for _, name := range catalog.Names() {
		d, err := catalog.Lookup(name)
		if err != nil {
			fmt.Printf("%-20s invalid: %v\n", name, err)
			continue
		}
		fmt.Printf("%-20s %-8s 0x%08X %d\n", d.Name, d.Family, d.FlashBase, d.BaudRate)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}
