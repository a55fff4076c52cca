// Package cmd contains the calsync command-line interface.
package cmd
