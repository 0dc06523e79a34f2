// Package directive handles regionize comment directives.
//
// # Supported Directives
//
//	//regionize:ignore - Suppress structuring warnings for a line, a function, or a file
//	//regionize:dump   - Print the region tree of a function to stderr
//
// # Directive Placement
//
// Directives can be placed:
//   - On the line before the function declaration (most common)
//   - On the same line as the function declaration
//   - In the doc comment of a function (function-level ignore/dump)
//   - Before the package declaration (file-level ignore)
//
// # Examples
//
// Function-level ignore:
//
//	//regionize:ignore
//	func legacy() {
//	    // irregular control flow here is not reported
//	}
//
// Same-line ignore:
//
//	func parse() { //regionize:ignore
//
// Tree dump:
//
//	//regionize:dump
//	func hot(n int) int {
//	    ...
//	}
package directive

import "strings"

const directivePrefix = "regionize:"

// hasDirective checks if a comment contains the specified directive.
// Supports both "//regionize:name" and "// regionize:name".
func hasDirective(text, name string) bool {
	text = strings.TrimPrefix(text, "//")
	text = strings.TrimSpace(text)
	return strings.HasPrefix(text, directivePrefix+name)
}

// IsIgnoreDirective checks if a comment is an ignore directive.
func IsIgnoreDirective(text string) bool { return hasDirective(text, "ignore") }

// IsDumpDirective checks if a comment is a dump directive.
func IsDumpDirective(text string) bool { return hasDirective(text, "dump") }
