package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

var durationType = reflect.TypeOf(time.Duration(0))

// AffixedEnvFeeder is a feeder that reads environment variables with a prefix and/or suffix.
// A struct-typed field carrying an env tag adds its tag as a name segment for
// the fields below it, so Modules.MaxModules tagged MODULES and MAX_MODULES is
// read from PREFIX_MODULES_MAX_MODULES.
type AffixedEnvFeeder struct {
	Prefix string
	Suffix string
}

// NewAffixedEnvFeeder creates a new AffixedEnvFeeder with the specified prefix and suffix
func NewAffixedEnvFeeder(prefix, suffix string) AffixedEnvFeeder {
	return AffixedEnvFeeder{Prefix: prefix, Suffix: suffix}
}

// Feed reads environment variables and populates the provided structure
func (f AffixedEnvFeeder) Feed(structure any) error {
	inputType := reflect.TypeOf(structure)
	if inputType != nil && inputType.Kind() == reflect.Pointer && inputType.Elem().Kind() == reflect.Struct {
		return fillStruct(reflect.ValueOf(structure).Elem(), f.Prefix, f.Suffix)
	}
	return ErrEnvInvalidStructure
}

// fillStruct sets struct fields from environment variables
func fillStruct(rv reflect.Value, prefix, suffix string) error {
	if prefix == "" && suffix == "" {
		return ErrEnvEmptyPrefixAndSuffix
	}
	return processStructFields(rv, strings.ToUpper(prefix), strings.ToUpper(suffix))
}

// processStructFields iterates through struct fields
func processStructFields(rv reflect.Value, prefix, suffix string) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}

		if err := processField(field, &fieldType, prefix, suffix); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}

// processField handles a single struct field
func processField(field reflect.Value, fieldType *reflect.StructField, prefix, suffix string) error {
	envTag, hasTag := fieldType.Tag.Lookup("env")

	switch {
	case field.Kind() == reflect.Struct:
		if hasTag {
			prefix = joinEnvName(prefix, strings.ToUpper(envTag))
		}
		return processStructFields(field, prefix, suffix)
	case field.Kind() == reflect.Pointer && !field.IsNil() && field.Elem().Kind() == reflect.Struct:
		if hasTag {
			prefix = joinEnvName(prefix, strings.ToUpper(envTag))
		}
		return processStructFields(field.Elem(), prefix, suffix)
	case hasTag:
		return setFieldFromEnv(field, envTag, prefix, suffix)
	}
	return nil
}

func joinEnvName(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "_")
}

// EnvName returns the variable name the feeder reads for tag.
func (f AffixedEnvFeeder) EnvName(tag string) string {
	return joinEnvName(strings.ToUpper(f.Prefix), strings.ToUpper(tag), strings.ToUpper(f.Suffix))
}

// setFieldFromEnv sets a field value from an environment variable
func setFieldFromEnv(field reflect.Value, envTag, prefix, suffix string) error {
	envName := joinEnvName(prefix, strings.ToUpper(envTag), suffix)

	if envValue := os.Getenv(envName); envValue != "" {
		return setFieldValue(field, envValue)
	}
	return nil
}

// setFieldValue converts and sets a field value
func setFieldValue(field reflect.Value, strValue string) error {
	if !field.CanSet() {
		return ErrFieldCannotBeSet
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(strValue)
		if err != nil {
			return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
		}
		field.SetInt(int64(d))
		return nil
	}

	convertedValue, err := cast.FromType(strValue, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
	}

	field.Set(reflect.ValueOf(convertedValue).Convert(field.Type()))
	return nil
}
