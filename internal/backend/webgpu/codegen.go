// Package webgpu implements the GPU backend: tuned kernels are compiled to
// WGSL compute shaders and dispatched through go-webgpu's zero-CGO WebGPU
// bindings. Code generation is pure and testable without a device.
package webgpu

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/lamng3/gojax/internal/alu"
	"github.com/lamng3/gojax/internal/kernel"
	"github.com/lamng3/gojax/internal/shapes"
)

// workgroupSize is the number of threads per workgroup.
const workgroupSize = 256

func wgslScalar(dt shapes.DType) (string, error) {
	switch dt {
	case shapes.Float32:
		return "f32", nil
	case shapes.Int32:
		return "i32", nil
	case shapes.Uint32:
		return "u32", nil
	case shapes.Bool:
		return "bool", nil
	}
	return "", errors.Errorf("webgpu: dtype %s has no WGSL representation", dt)
}

// storageScalar is the element type of a buffer binding. Bool never crosses
// a kernel boundary on this backend.
func storageScalar(dt shapes.DType) (string, error) {
	switch dt {
	case shapes.Float32, shapes.Int32, shapes.Uint32:
		return wgslScalar(dt)
	}
	return "", errors.Errorf("webgpu: dtype %s cannot be a kernel buffer", dt)
}

// fdiv/fmod helpers give WGSL's truncating integer division the floor
// semantics the scalar IR defines.
const intDivHelpers = `
fn fdiv(a: i32, b: i32) -> i32 {
    var q = a / b;
    if ((a % b) != 0 && ((a < 0) != (b < 0))) {
        q = q - 1;
    }
    return q;
}

fn fmod(a: i32, b: i32) -> i32 {
    return a - fdiv(a, b) * b;
}
`

// GenerateWGSL compiles a tuned kernel into one compute shader. Input
// buffers bind in order, then the output, then a uniform holding the
// dispatch size.
func GenerateWGSL(k kernel.Tuned) (string, error) {
	var b strings.Builder

	for i, dt := range k.ArgDTypes {
		st, err := storageScalar(dt)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read> g%d: array<%s>;\n", i, i, st)
	}
	outType, err := storageScalar(k.OutDType)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read_write> out: array<%s>;\n", k.NArgs, outType)
	fmt.Fprintf(&b, "\nstruct Params {\n    size: u32,\n}\n@group(0) @binding(%d) var<uniform> params: Params;\n", k.NArgs+1)

	g := &exprGen{}
	body, err := g.emit(k.Exp)
	if err != nil {
		return "", err
	}

	if g.needsIntDiv {
		b.WriteString(intDivHelpers)
	}

	fmt.Fprintf(&b, "\n@compute @workgroup_size(%d)\n", workgroupSize)
	b.WriteString("fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {\n")
	b.WriteString("    if (global_id.x >= params.size) {\n        return;\n    }\n")
	b.WriteString("    let gidx = i32(global_id.x);\n")

	if r := k.Reduction; r != nil {
		accType, err := wgslScalar(r.DType)
		if err != nil {
			return "", err
		}
		combine := "+"
		if r.Op == alu.OpMul {
			combine = "*"
		}
		fmt.Fprintf(&b, "    var acc: %s = %s;\n", accType, constWGSL(r.DType, r.Identity()))
		fmt.Fprintf(&b, "    for (var ridx: i32 = 0; ridx < %d; ridx = ridx + 1) {\n", r.Size)
		fmt.Fprintf(&b, "        acc = acc %s %s;\n", combine, body)
		b.WriteString("    }\n")
		b.WriteString("    out[gidx] = acc;\n")
	} else {
		fmt.Fprintf(&b, "    out[gidx] = %s;\n", body)
	}
	b.WriteString("}\n")
	return b.String(), nil
}

type exprGen struct {
	needsIntDiv bool
}

func (g *exprGen) emit(e *alu.Exp) (string, error) {
	switch e.Op {
	case alu.OpConst:
		if v, ok := e.Arg.(bool); ok {
			return fmt.Sprintf("%t", v), nil
		}
		return constWGSL(e.DType, e.Arg.(float64)), nil

	case alu.OpSpecial:
		return e.Arg.(alu.SpecialArg).Name, nil

	case alu.OpGlobalIndex:
		off, err := g.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		if _, err := storageScalar(e.DType); err != nil {
			return "", err
		}
		return fmt.Sprintf("g%d[%s]", e.Arg.(int), off), nil

	case alu.OpAdd, alu.OpSub, alu.OpMul:
		a, err := g.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		b, err := g.emit(e.Src[1])
		if err != nil {
			return "", err
		}
		if e.DType == shapes.Bool {
			if e.Op == alu.OpAdd {
				return fmt.Sprintf("(%s || %s)", a, b), nil
			}
			return fmt.Sprintf("(%s && %s)", a, b), nil
		}
		op := map[alu.Op]string{alu.OpAdd: "+", alu.OpSub: "-", alu.OpMul: "*"}[e.Op]
		return fmt.Sprintf("(%s %s %s)", a, op, b), nil

	case alu.OpIdiv, alu.OpMod:
		a, err := g.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		b, err := g.emit(e.Src[1])
		if err != nil {
			return "", err
		}
		if e.DType != shapes.Int32 && e.DType != shapes.Uint32 {
			return "", errors.Errorf("webgpu: %s on dtype %s", e.Op, e.DType)
		}
		g.needsIntDiv = true
		fn := "fdiv"
		if e.Op == alu.OpMod {
			fn = "fmod"
		}
		return fmt.Sprintf("%s(%s, %s)", fn, a, b), nil

	case alu.OpNeg:
		a, err := g.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(-%s)", a), nil

	case alu.OpSin, alu.OpCos, alu.OpExp, alu.OpLog, alu.OpSqrt:
		a, err := g.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		fn := map[alu.Op]string{
			alu.OpSin: "sin", alu.OpCos: "cos", alu.OpExp: "exp",
			alu.OpLog: "log", alu.OpSqrt: "sqrt",
		}[e.Op]
		return fmt.Sprintf("%s(%s)", fn, a), nil

	case alu.OpReciprocal:
		a, err := g.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(1.0 / %s)", a), nil

	case alu.OpCmplt, alu.OpCmpeq, alu.OpCmpne:
		a, err := g.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		b, err := g.emit(e.Src[1])
		if err != nil {
			return "", err
		}
		op := map[alu.Op]string{alu.OpCmplt: "<", alu.OpCmpeq: "==", alu.OpCmpne: "!="}[e.Op]
		return fmt.Sprintf("(%s %s %s)", a, op, b), nil

	case alu.OpWhere:
		cond, err := g.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		a, err := g.emit(e.Src[1])
		if err != nil {
			return "", err
		}
		b, err := g.emit(e.Src[2])
		if err != nil {
			return "", err
		}
		// select picks its second operand when the condition holds.
		return fmt.Sprintf("select(%s, %s, %s)", b, a, cond), nil
	}
	return "", errors.Errorf("webgpu: cannot lower op %s", e.Op)
}

func constWGSL(dt shapes.DType, v float64) string {
	switch dt {
	case shapes.Float32:
		s := fmt.Sprintf("%g", v)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s
	case shapes.Int32:
		return fmt.Sprintf("%d", int64(v))
	case shapes.Uint32:
		return fmt.Sprintf("%du", uint64(v))
	case shapes.Bool:
		return fmt.Sprintf("%t", v != 0)
	}
	return fmt.Sprintf("%g", v)
}
