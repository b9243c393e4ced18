//go:build tools

// Package tools pins mockgen, which go generate runs for internal/mocks.
package yeettalk

import (
	_ "go.uber.org/mock/mockgen"
)
