package reservoirerrors_test

import (
	"errors"
	"fmt"
	"io"

	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// Example demonstrates basic error creation with context details.
func Example() {
	err := reservoirerrors.New(reservoirerrors.ErrorTypeConfig, "max_pool_size must be positive").
		WithDetail("value", -1)

	fmt.Println(err.Error())

	// Output:
	// config: max_pool_size must be positive
}

// ExampleWrap shows how wrapping keeps the original cause reachable.
func ExampleWrap() {
	err := reservoirerrors.Wrap(io.ErrShortWrite, reservoirerrors.ErrorTypeExport, "file sink write failed").
		WithDetail("sink", "file")

	if reservoirerrors.IsType(err, reservoirerrors.ErrorTypeExport) {
		fmt.Println("export error")
	}
	if errors.Is(err, io.ErrShortWrite) {
		fmt.Println("caused by short write")
	}

	// Output:
	// export error
	// caused by short write
}

// ExampleIsType demonstrates matching a type deeper in the chain.
func ExampleIsType() {
	inner := reservoirerrors.New(reservoirerrors.ErrorTypeOwnership, "buffer already released")
	outer := reservoirerrors.Wrap(inner, reservoirerrors.ErrorTypeInternal, "release failed")

	fmt.Println(reservoirerrors.IsType(outer, reservoirerrors.ErrorTypeOwnership))
	fmt.Println(reservoirerrors.IsType(outer, reservoirerrors.ErrorTypeGC))
	fmt.Println(reservoirerrors.IsType(errors.New("plain"), reservoirerrors.ErrorTypeInternal))

	// Output:
	// true
	// false
	// false
}
