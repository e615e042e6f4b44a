package validation

import (
    "strings"
    "unicode"

    "strand/internal/errors"
)

// reserved names collide with revset symbols.
var reserved = map[string]bool{
    "@":    true,
    "root": true,
    "all":  true,
    "none": true,
}

// ValidateBookmarkName rejects names that could not be written back as a
// revset symbol.
func ValidateBookmarkName(name string) error {
    if err := validateSymbol("bookmark", name); err != nil {
        return err
    }
    if strings.Contains(name, "@") {
        return errors.ValidationError("bookmark name cannot contain '@'", name)
    }
    return nil
}

func ValidateWorkspaceName(name string) error {
    return validateSymbol("workspace", name)
}

func validateSymbol(kind, name string) error {
    if name == "" {
        return errors.ValidationError(kind+" name cannot be empty", nil)
    }
    if reserved[name] {
        return errors.ValidationError(kind+" name is reserved", name)
    }
    if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") || strings.HasPrefix(name, ".") {
        return errors.ValidationError(kind+" name cannot start or end with '-' or start with '.'", name)
    }
    for _, r := range name {
        if unicode.IsSpace(r) || unicode.IsControl(r) {
            return errors.ValidationError(kind+" name cannot contain whitespace", name)
        }
        if strings.ContainsRune(`:|&~()+,"'\`, r) {
            return errors.ValidationError(kind+" name contains reserved character "+string(r), name)
        }
    }
    return nil
}
