package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kozaktomas/photo-jobs/internal/client"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Upload and inspect assets",
}

var assetAddCmd = &cobra.Command{
	Use:   "add <path> [path...]",
	Short: "Upload photos and videos",
	Long: `Upload files or the media files inside folders.

By default, only files directly inside the given folders are uploaded.
Use -r to search recursively in subdirectories. The file modification time
is sent as the asset's creation date.

Example:
  photo-jobs asset add /path/to/IMG_0001.JPG
  photo-jobs asset add -r --owner alice /path/to/photos`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAssetAdd,
}

var assetGetCmd = &cobra.Command{
	Use:   "get <asset-id>",
	Short: "Show an asset with its derived attributes",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetGet,
}

func init() {
	rootCmd.AddCommand(assetCmd)
	assetCmd.AddCommand(assetAddCmd, assetGetCmd)

	assetAddCmd.Flags().BoolP("recursive", "r", false, "Search for files recursively in subdirectories")
	assetAddCmd.Flags().String("owner", "", "Owner id for the uploaded assets")
	assetAddCmd.Flags().Int("concurrency", 4, "Number of parallel uploads")
}

var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".heic": true, ".heif": true,
	".webp": true, ".tiff": true, ".tif": true, ".bmp": true, ".dng": true,
	".mp4": true, ".mov": true, ".m4v": true,
}

// isMediaFile checks if a file has a supported photo or video extension
func isMediaFile(name string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(name))]
}

// collectFiles expands folders into the media files they contain.
// Files named explicitly are kept whatever their extension.
func collectFiles(paths []string, recursive bool) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		if recursive {
			err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isMediaFile(d.Name()) {
					files = append(files, p)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("cannot walk folder %s: %w", path, err)
			}
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read folder %s: %w", path, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isMediaFile(entry.Name()) {
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}
	}
	return files, nil
}

func runAssetAdd(cmd *cobra.Command, args []string) error {
	recursive := mustGetBool(cmd, "recursive")
	owner := mustGetString(cmd, "owner")
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)

	files, err := collectFiles(args, recursive)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No media files found.")
		return nil
	}
	fmt.Printf("Found %d file(s) to upload\n", len(files))

	c, err := newAPIClient()
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	ctx := cmd.Context()
	var (
		uploaded     []*client.UploadResult
		uploadErrors []string
		mu           sync.Mutex
		wg           sync.WaitGroup
		sem          = make(chan struct{}, concurrency)
	)

	for _, path := range files {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer bar.Add(1) //nolint:errcheck // progress output only

			var res *client.UploadResult
			info, err := os.Stat(path)
			if err == nil {
				res, err = c.UploadFile(ctx, path, owner, info.ModTime())
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				uploadErrors = append(uploadErrors, fmt.Sprintf("%s: %v", path, err))
				return
			}
			uploaded = append(uploaded, res)
		}(path)
	}
	wg.Wait()
	fmt.Println()

	for _, msg := range uploadErrors {
		fmt.Printf("Failed: %s\n", msg)
	}
	fmt.Printf("Uploaded %d of %d file(s)\n", len(uploaded), len(files))

	if len(uploaded) == 0 {
		return errors.New("no files were uploaded successfully")
	}
	return nil
}

func runAssetGet(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	asset, err := c.Asset(cmd.Context(), args[0])
	if client.IsNotFoundError(err) {
		return fmt.Errorf("asset %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to get asset: %w", err)
	}

	out, err := json.MarshalIndent(asset, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode asset: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
