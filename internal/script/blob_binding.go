package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/23skdu/longbow-quiver/internal/blob"
)

const blobTypeName = "quiver.Blob"

var blobMethods = map[string]lua.LGFunction{
	"shape":       blobShape,
	"num_axes":    blobNumAxes,
	"count":       blobCount,
	"reshape":     blobReshape,
	"data":        blobData,
	"diff":        blobDiff,
	"set_data":    blobSetData,
	"set_diff":    blobSetDiff,
	"at":          blobAt,
	"set":         blobSet,
	"diff_at":     blobDiffAt,
	"set_diff_at": blobSetDiffAt,
	"copy_from":   blobCopyFrom,
	"fill":        blobFill,
}

func registerBlobType(L *lua.LState) {
	mt := L.NewTypeMetatable(blobTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), blobMethods))
	L.SetField(mt, "__tostring", L.NewFunction(blobToString))
	L.SetField(mt, "__len", L.NewFunction(blobCount))
}

// BlobValue wraps b as Blob userdata. The blob is shared, not copied.
func BlobValue(L *lua.LState, b *blob.Blob) lua.LValue {
	ud := L.NewUserData()
	ud.Value = b
	L.SetMetatable(ud, L.GetTypeMetatable(blobTypeName))
	return ud
}

// BlobList returns a 1-based array of Blob userdata.
func BlobList(L *lua.LState, blobs []*blob.Blob) *lua.LTable {
	tbl := L.CreateTable(len(blobs), 0)
	for _, b := range blobs {
		tbl.Append(BlobValue(L, b))
	}
	return tbl
}

// BoolList returns a 1-based array of booleans.
func BoolList(L *lua.LState, flags []bool) *lua.LTable {
	tbl := L.CreateTable(len(flags), 0)
	for _, f := range flags {
		tbl.Append(lua.LBool(f))
	}
	return tbl
}

func checkBlob(L *lua.LState, n int) *blob.Blob {
	ud := L.CheckUserData(n)
	if b, ok := ud.Value.(*blob.Blob); ok {
		return b
	}
	L.ArgError(n, "Blob expected")
	return nil
}

func intList(L *lua.LState, vals []int) *lua.LTable {
	tbl := L.CreateTable(len(vals), 0)
	for _, v := range vals {
		tbl.Append(lua.LNumber(v))
	}
	return tbl
}

func floatList(L *lua.LState, vals []float32) *lua.LTable {
	tbl := L.CreateTable(len(vals), 0)
	for _, v := range vals {
		tbl.Append(lua.LNumber(v))
	}
	return tbl
}

func checkFloats(L *lua.LState, n int) []float32 {
	tbl := L.CheckTable(n)
	size := tbl.Len()
	out := make([]float32, size)
	for i := 1; i <= size; i++ {
		v, ok := tbl.RawGetInt(i).(lua.LNumber)
		if !ok {
			L.ArgError(n, fmt.Sprintf("element %d is %s, number expected", i, tbl.RawGetInt(i).Type()))
		}
		out[i-1] = float32(v)
	}
	return out
}

// checkIndex converts a 1-based Lua index to a 0-based one.
func checkIndex(L *lua.LState, n int) int {
	return L.CheckInt(n) - 1
}

func blobShape(L *lua.LState) int {
	L.Push(intList(L, checkBlob(L, 1).Shape()))
	return 1
}

func blobNumAxes(L *lua.LState) int {
	L.Push(lua.LNumber(checkBlob(L, 1).NumAxes()))
	return 1
}

func blobCount(L *lua.LState) int {
	L.Push(lua.LNumber(checkBlob(L, 1).Count()))
	return 1
}

// blobReshape accepts b:reshape(2, 3) or b:reshape({2, 3}).
func blobReshape(L *lua.LState) int {
	b := checkBlob(L, 1)
	var shape []int
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		for i := 1; i <= tbl.Len(); i++ {
			d, ok := tbl.RawGetInt(i).(lua.LNumber)
			if !ok {
				L.ArgError(2, fmt.Sprintf("dimension %d is %s, number expected", i, tbl.RawGetInt(i).Type()))
			}
			shape = append(shape, int(d))
		}
	} else {
		for i := 2; i <= L.GetTop(); i++ {
			shape = append(shape, L.CheckInt(i))
		}
	}
	if err := b.Reshape(shape...); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func blobData(L *lua.LState) int {
	L.Push(floatList(L, checkBlob(L, 1).Data()))
	return 1
}

func blobDiff(L *lua.LState) int {
	L.Push(floatList(L, checkBlob(L, 1).Diff()))
	return 1
}

func blobSetData(L *lua.LState) int {
	b := checkBlob(L, 1)
	if err := b.SetData(checkFloats(L, 2)); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func blobSetDiff(L *lua.LState) int {
	b := checkBlob(L, 1)
	if err := b.SetDiff(checkFloats(L, 2)); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func blobAt(L *lua.LState) int {
	v, err := checkBlob(L, 1).At(checkIndex(L, 2))
	if err != nil {
		L.ArgError(2, err.Error())
	}
	L.Push(lua.LNumber(v))
	return 1
}

func blobSet(L *lua.LState) int {
	b := checkBlob(L, 1)
	if err := b.Set(checkIndex(L, 2), float32(L.CheckNumber(3))); err != nil {
		L.ArgError(2, err.Error())
	}
	return 0
}

func blobDiffAt(L *lua.LState) int {
	v, err := checkBlob(L, 1).DiffAt(checkIndex(L, 2))
	if err != nil {
		L.ArgError(2, err.Error())
	}
	L.Push(lua.LNumber(v))
	return 1
}

func blobSetDiffAt(L *lua.LState) int {
	b := checkBlob(L, 1)
	if err := b.SetDiffAt(checkIndex(L, 2), float32(L.CheckNumber(3))); err != nil {
		L.ArgError(2, err.Error())
	}
	return 0
}

// blobCopyFrom is b:copy_from(src [, copy_diff [, reshape]]).
func blobCopyFrom(L *lua.LState) int {
	dst := checkBlob(L, 1)
	src := checkBlob(L, 2)
	if err := dst.CopyFrom(src, L.OptBool(3, false), L.OptBool(4, false)); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func blobFill(L *lua.LState) int {
	checkBlob(L, 1).Fill(float32(L.CheckNumber(2)))
	return 0
}

func blobToString(L *lua.LState) int {
	L.Push(lua.LString("Blob(" + checkBlob(L, 1).ShapeString() + ")"))
	return 1
}
