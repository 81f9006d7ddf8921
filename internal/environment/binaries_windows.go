//go:build windows

package environment

const binarySuffix = ".exe"
