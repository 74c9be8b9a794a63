package collections

import "github.com/Invicton-Labs/go-stackerr"

// TransformSlice maps an input slice to an output slice using a
// transformation function.
func TransformSlice[InType any, OutType any](in []InType, transformationFunc func(idx int, value InType) OutType) []OutType {
	out := make([]OutType, len(in))
	for i, v := range in {
		out[i] = transformationFunc(i, v)
	}
	return out
}

// TransformSliceWithErr maps an input slice to an output slice using a
// transformation function that can return an error. The first error
// stops the transformation.
func TransformSliceWithErr[InType any, OutType any](in []InType, transformationFunc func(idx int, value InType) (OutType, stackerr.Error)) ([]OutType, stackerr.Error) {
	out := make([]OutType, len(in))
	for i, v := range in {
		transformed, err := transformationFunc(i, v)
		if err != nil {
			return nil, err
		}
		out[i] = transformed
	}
	return out, nil
}
