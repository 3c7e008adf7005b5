// Package textutil cleans user-supplied titles into safe file names.
package textutil
