package debrepo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralt/repoctl/internal/utils"
	"github.com/sirupsen/logrus"
)

// GenerateReleaseFile creates a Release file listing the SHA256 of every
// index, paths relative to distDir
func GenerateReleaseFile(distDir string, rel Release, indexes []string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	origin := rel.Origin
	if origin == "" {
		origin = "repoctl"
	}
	label := rel.Label
	if label == "" {
		label = origin
	}

	fmt.Fprintf(&buf, "Origin: %s\n", origin)
	fmt.Fprintf(&buf, "Label: %s\n", label)
	fmt.Fprintf(&buf, "Suite: %s\n", rel.Distribution)
	fmt.Fprintf(&buf, "Codename: %s\n", rel.Distribution)
	fmt.Fprintf(&buf, "Architectures: %s\n", strings.Join(rel.Architectures, " "))
	fmt.Fprintf(&buf, "Components: %s\n", rel.Component)
	fmt.Fprintf(&buf, "Date: %s\n", now.UTC().Format(time.RFC1123Z))

	buf.WriteString("SHA256:\n")
	for _, idx := range indexes {
		sum, err := utils.CalculateChecksum(filepath.Join(distDir, filepath.FromSlash(idx)))
		if err != nil {
			return nil, fmt.Errorf("failed to calculate checksum for %s: %w", idx, err)
		}
		fmt.Fprintf(&buf, " %s %d %s\n", sum.SHA256, sum.Size, idx)
	}

	return buf.Bytes(), nil
}

func writeRelease(distDir string, rel Release, indexes []string, s Signer) error {
	releaseData, err := GenerateReleaseFile(distDir, rel, indexes, time.Now())
	if err != nil {
		return err
	}
	if err := utils.WriteFile(filepath.Join(distDir, "Release"), releaseData, 0644); err != nil {
		return err
	}

	inReleasePath := filepath.Join(distDir, "InRelease")
	releaseGpgPath := filepath.Join(distDir, "Release.gpg")

	if s == nil {
		// Unsigned InRelease keeps modern apt working with [trusted=yes]
		logrus.Warnf("Publishing %s unsigned", rel.Distribution)
		if err := os.Remove(releaseGpgPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return utils.WriteFile(inReleasePath, releaseData, 0644)
	}

	inRelease, err := s.SignCleartext(releaseData)
	if err != nil {
		return fmt.Errorf("failed to sign InRelease: %w", err)
	}
	if err := utils.WriteFile(inReleasePath, inRelease, 0644); err != nil {
		return err
	}

	detached, err := s.SignDetached(releaseData)
	if err != nil {
		return fmt.Errorf("failed to create Release.gpg: %w", err)
	}
	return utils.WriteFile(releaseGpgPath, detached, 0644)
}
