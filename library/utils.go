// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.


package library

// UniqueAppend judge and append key
func UniqueAppend[T comparable](slice []T, lookup T) []T {
	// append unique key
	hasKey := false
	for _, key := range slice {
		// found the key
		if key == lookup {
			hasKey = true
			break
		}
	}
	// not found
	if !hasKey {
		slice = append(slice, lookup)
	}
	return slice
}

