package configtest

import (
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/multierr"
	"google.golang.org/protobuf/proto"
)

var (
	protoMessageType = reflect.TypeOf((*proto.Message)(nil)).Elem()
	snakeCase        = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

func checkYAMLTags(t reflect.Type, seen map[reflect.Type]struct{}) error {
	if _, ok := seen[t]; ok {
		return nil
	}
	seen[t] = struct{}{}

	switch t.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.Pointer:
		return checkYAMLTags(t.Elem(), seen)
	case reflect.Struct:
		if reflect.PointerTo(t).Implements(protoMessageType) {
			// ignore protobuf messages
			return nil
		}

		var errs error
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}

			parts := strings.Split(field.Tag.Get("yaml"), ",")
			if parts[0] == "-" {
				continue
			}
			inline := slices.Contains(parts, "inline")
			if !inline && !snakeCase.MatchString(parts[0]) {
				errs = multierr.Append(errs, fmt.Errorf("%s/%s.%s yaml tag %q is not snake case", t.PkgPath(), t.Name(), field.Name, parts[0]))
			}

			// booleans default to false, so omitting them would hide an explicit false
			if field.Type.Kind() != reflect.Bool && field.Tag.Get("config") != "allowempty" &&
				!slices.Contains(parts, "omitempty") && !inline {
				errs = multierr.Append(errs, fmt.Errorf("%s/%s.%s missing omitempty tag", t.PkgPath(), t.Name(), field.Name))
			}

			if !inline {
				errs = multierr.Append(errs, checkYAMLTags(field.Type, seen))
			}
		}
		return errs
	default:
		return nil
	}
}

// CheckYAMLTags reports every field of config, recursively, whose yaml tag is
// missing, not snake case, or lacks omitempty. Inlined structs are not descended.
func CheckYAMLTags(config any) error {
	return checkYAMLTags(reflect.TypeOf(config), map[reflect.Type]struct{}{})
}
