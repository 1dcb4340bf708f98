package server

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/lingo/vm"
)

// Tagged struct keys for Datum kinds that JSON values cannot carry.
const (
	symbolKey = "$symbol"
	floatKey  = "$float"
)

// ToValue converts d to a protobuf Value.
//
// Void is null, strings and arrays map directly, integers are numbers.
// Floats with a fractional part are numbers; integral floats are tagged
// as {"$float": n} so they decode as floats again. Symbols are
// {"$symbol": name}.
func ToValue(d vm.Datum) *structpb.Value {
	switch d.Kind() {
	case vm.KindInteger:
		return structpb.NewNumberValue(float64(d.AsInt()))
	case vm.KindFloat:
		f := d.AsFloat()
		if f == math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				floatKey: structpb.NewNumberValue(f),
			}})
		}
		return structpb.NewNumberValue(f)
	case vm.KindString:
		return structpb.NewStringValue(d.AsString())
	case vm.KindSymbol:
		return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			symbolKey: structpb.NewStringValue(d.AsString()),
		}})
	case vm.KindArray:
		elems := d.Elems()
		values := make([]*structpb.Value, len(elems))
		for i, e := range elems {
			values[i] = ToValue(e)
		}
		return structpb.NewListValue(&structpb.ListValue{Values: values})
	default:
		return structpb.NewNullValue()
	}
}

// FromValue converts a protobuf Value to a Datum. Whole numbers become
// integers and booleans become 1 or 0.
func FromValue(v *structpb.Value) (vm.Datum, error) {
	if v == nil {
		return vm.Void, nil
	}
	switch k := v.Kind.(type) {
	case *structpb.Value_NullValue:
		return vm.Void, nil
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n == math.Trunc(n) && math.Abs(n) <= 1<<53 {
			return vm.Int(int64(n)), nil
		}
		return vm.Float(n), nil
	case *structpb.Value_StringValue:
		return vm.String(k.StringValue), nil
	case *structpb.Value_BoolValue:
		return vm.Bool(k.BoolValue), nil
	case *structpb.Value_ListValue:
		values := k.ListValue.GetValues()
		elems := make([]vm.Datum, len(values))
		for i, e := range values {
			d, err := FromValue(e)
			if err != nil {
				return vm.Void, fmt.Errorf("element %d: %w", i+1, err)
			}
			elems[i] = d
		}
		return vm.Array(elems...), nil
	case *structpb.Value_StructValue:
		fields := k.StructValue.GetFields()
		if len(fields) == 1 {
			if s, ok := fields[symbolKey]; ok {
				return vm.Sym(s.GetStringValue()), nil
			}
			if f, ok := fields[floatKey]; ok {
				return vm.Float(f.GetNumberValue()), nil
			}
		}
		return vm.Void, fmt.Errorf("cannot convert a struct to a value; use %q or %q", symbolKey, floatKey)
	default:
		return vm.Void, fmt.Errorf("unsupported value %T", v.Kind)
	}
}

// Request field accessors. Missing fields read as zero values.

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func intField(s *structpb.Struct, name string) int {
	return int(s.GetFields()[name].GetNumberValue())
}

func boolField(s *structpb.Struct, name string) bool {
	return s.GetFields()[name].GetBoolValue()
}

func valueField(s *structpb.Struct, name string) (*structpb.Value, bool) {
	v, ok := s.GetFields()[name]
	return v, ok
}

func stringList(items []string) *structpb.Value {
	values := make([]*structpb.Value, len(items))
	for i, s := range items {
		values[i] = structpb.NewStringValue(s)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}
