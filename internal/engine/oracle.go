//go:build oracle
// +build oracle

package engine

import (
	_ "github.com/godror/godror"
)
