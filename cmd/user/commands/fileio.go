package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rgranger/stripefs/pkg/userclient"
)

// runCopyInteractive is the REPL's file-I/O shell around Client.Copy,
// shared with the one-shot copy subcommand's logic.
func runCopyInteractive(ctx context.Context, c *userclient.Client, dssName, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	fileName := filepath.Base(path)
	if err := c.Copy(ctx, dssName, fileName, data); err != nil {
		return err
	}
	fmt.Println("copied:", fileName, "bytes:", len(data))
	return nil
}

// runReadInteractive is the REPL's file-I/O shell around Client.Read.
func runReadInteractive(ctx context.Context, c *userclient.Client, dssName, fileName, outPath string, faultPercent int) error {
	data, err := c.Read(ctx, dssName, fileName, faultPercent)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", outPath, err)
	}
	fmt.Println("read:", fileName, "bytes:", len(data), "->", outPath)
	return nil
}
