// Package watcher feeds file system notifications into the index store.
//
// Events are collected for a short debounce interval and then applied in path
// order: writes and creates of files in the default scope invalidate the
// file, removals and renames drop it (or every indexed file beneath a removed
// directory). Newly created directories are watched as they appear. The
// watcher never builds anything itself; the next query rebuilds invalidated
// files through the store.
package watcher
