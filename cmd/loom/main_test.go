package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorloom/loom/internal/tensorrt"
)

func TestResolveProviders_MapsKnownNamesInOrder(t *testing.T) {
	got := resolveProviders([]string{"cuda", "cpu"})
	require.Equal(t, []tensorrt.Provider{tensorrt.CUDA, tensorrt.CPU}, got)
}

func TestResolveProviders_IsCaseInsensitiveAndTrimsWhitespace(t *testing.T) {
	got := resolveProviders([]string{" CUDA ", "CPU"})
	require.Equal(t, []tensorrt.Provider{tensorrt.CUDA, tensorrt.CPU}, got)
}

func TestResolveProviders_DropsUnrecognizedNames(t *testing.T) {
	got := resolveProviders([]string{"cpu", "quantum", "cuda"})
	require.Equal(t, []tensorrt.Provider{tensorrt.CPU, tensorrt.CUDA}, got)
}

func TestResolveProviders_EmptyInputYieldsEmptyOutput(t *testing.T) {
	got := resolveProviders(nil)
	require.Empty(t, got)
}
