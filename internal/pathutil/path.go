// Package pathutil provides path manipulation for slash-separated archive paths.
package pathutil

import "strings"

// Clean trims a leading "./" and leading slashes from an archive member name.
// Trailing slashes are preserved since formats use them to mark directories.
func Clean(name string) string {
	name = strings.TrimPrefix(name, "./")
	return strings.TrimLeft(name, "/")
}

// TrimDir removes trailing slashes from a directory name.
func TrimDir(name string) string {
	return strings.TrimRight(name, "/")
}

// DirPrefix converts a path to its directory prefix form.
// For "" or ".", returns "" (empty prefix matches all).
// For other paths, ensures exactly one trailing "/" to match children.
func DirPrefix(name string) string {
	name = TrimDir(name)
	if name == "" || name == "." {
		return ""
	}
	return name + "/"
}

// Under reports whether name is the directory dir itself or lies beneath it.
// dir may be given with or without its trailing slash.
func Under(name, dir string) bool {
	prefix := DirPrefix(dir)
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(name, prefix) || name == TrimDir(dir)
}
