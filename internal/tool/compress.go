package tool

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressZstd compresses the artifact at inputPath, removes the original,
// and returns the compressed path.
func CompressZstd(inputPath string) (string, error) {
	outputPath := inputPath + ".zst"

	inFile, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to open input file: %w", err)
	}
	defer inFile.Close()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	writer, err := zstd.NewWriter(outFile)
	if err != nil {
		return "", fmt.Errorf("failed to create Zstandard writer: %w", err)
	}
	if _, err := io.Copy(writer, inFile); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to compress file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish compression: %w", err)
	}

	if err := os.Remove(inputPath); err != nil {
		return "", fmt.Errorf("failed to remove original file: %w", err)
	}

	return outputPath, nil
}

// DecompressZstd restores a .zst artifact next to itself and returns the
// decompressed path. The compressed file is left in place.
func DecompressZstd(inputPath string) (string, error) {
	outputPath := strings.TrimSuffix(inputPath, ".zst")
	if outputPath == inputPath {
		return "", fmt.Errorf("input %q has no .zst suffix", inputPath)
	}

	inFile, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to open input file: %w", err)
	}
	defer inFile.Close()

	reader, err := zstd.NewReader(inFile)
	if err != nil {
		return "", fmt.Errorf("failed to create Zstandard reader: %w", err)
	}
	defer reader.Close()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, reader); err != nil {
		return "", fmt.Errorf("failed to decompress file: %w", err)
	}

	return outputPath, nil
}
