// Package ui implements the interactive terminal browser of spec.md
// §6: a tree panel and treemap panel over a scanned (or imported) entry
// tree, built with Bubble Tea, Bubbles, and Lip Gloss.
package ui
