package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/adrg/xdg"
	"github.com/hashicorp/go-multierror"

	"github.com/xenomit/rgh3x/pkg/xecrypt"
)

// resolveCPUKey finds the CPU key for a run: the flag value if given, then an
// explicitly named key file, otherwise cpukey.bin / cpukey.txt in the working
// directory, then the per-user config directory. The all-zero key is valid
// and must be given explicitly; an absent key is an error.
func resolveCPUKey(flagVal, filePath string) (xecrypt.CPUKey, error) {
	if flagVal != "" {
		return xecrypt.ParseCPUKey(flagVal)
	}
	if filePath != "" {
		return keyFromFile(filePath)
	}

	var errs error
	if b, err := os.ReadFile("cpukey.bin"); err == nil {
		var k xecrypt.CPUKey
		if len(b) < len(k) {
			return k, fmt.Errorf("cpukey.bin holds only %d bytes, want %d", len(b), len(k))
		}
		copy(k[:], b)
		slog.Debug("CPU key loaded from cpukey.bin")
		return k, nil
	} else if !os.IsNotExist(err) {
		errs = multierror.Append(errs, err)
	}

	for _, path := range []string{"cpukey.txt", configKeyPath()} {
		if path == "" {
			continue
		}
		b, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		s := strings.TrimSpace(string(b))
		if len(s) > 32 {
			s = s[:32]
		}
		k, err := xecrypt.ParseCPUKey(s)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		slog.Debug("CPU key loaded", "path", path)
		return k, nil
	}

	if errs == nil {
		return xecrypt.CPUKey{}, fmt.Errorf("no CPU key found; pass --cpukey or create cpukey.txt")
	}
	return xecrypt.CPUKey{}, fmt.Errorf("no usable CPU key found: %w", errs)
}

// keyFromFile reads a CPU key from a file, accepting both raw 16-byte binary
// and 32-character hex text.
func keyFromFile(path string) (xecrypt.CPUKey, error) {
	var k xecrypt.CPUKey
	b, err := os.ReadFile(path)
	if err != nil {
		return k, err
	}
	if len(b) == len(k) {
		copy(k[:], b)
		return k, nil
	}
	s := strings.TrimSpace(string(b))
	if len(s) > 32 {
		s = s[:32]
	}
	k, err = xecrypt.ParseCPUKey(s)
	if err != nil {
		return k, fmt.Errorf("%s: %w", path, err)
	}
	return k, nil
}

func configKeyPath() string {
	p, err := xdg.SearchConfigFile("rgh3x/cpukey.txt")
	if err != nil {
		return ""
	}
	return p
}
