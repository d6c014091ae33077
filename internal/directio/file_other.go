//go:build !linux

package directio

const directFlag = 0
