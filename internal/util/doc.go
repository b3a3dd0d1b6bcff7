// Package util holds small helpers shared by the server and the store implementations.
package util
