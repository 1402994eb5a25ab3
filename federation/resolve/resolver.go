// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ErrConfig marks an unusable system DNS configuration. Returned at
// startup so the operator fixes the host instead of every federation
// request failing with a resolution error.
var ErrConfig = errors.New("resolve: system DNS configuration unusable")

const resolvConfPath = "/etc/resolv.conf"

// SystemResolver validates the host's DNS configuration and returns
// the resolver the federation path should use. Validation is
// best-effort: a missing or nameserver-less resolv.conf fails with
// ErrConfig, anything else defers to the platform resolver.
func SystemResolver() (*net.Resolver, error) {
	if err := checkResolvConf(resolvConfPath); err != nil {
		return nil, err
	}
	return net.DefaultResolver, nil
}

func checkResolvConf(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "nameserver" {
			continue
		}
		if net.ParseIP(fields[1]) != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}
	return fmt.Errorf("%w: %s lists no usable nameserver", ErrConfig, path)
}
