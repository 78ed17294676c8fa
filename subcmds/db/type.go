// Copyright (c) 2025 BVK Chaitanya

package db

import (
	"fmt"

	"github.com/bvk/pancakebot/gobs"
)

// TypeNameValue returns a fresh value of the named gob type for decoding.
func TypeNameValue(typename string) (any, error) {
	switch typename {
	case "TokenState":
		return new(gobs.TokenState), nil
	case "OrderState":
		return new(gobs.OrderState), nil
	case "NotifyState":
		return new(gobs.NotifyState), nil
	}
	return nil, fmt.Errorf("unknown gob type name %q", typename)
}
