//go:build linux

package iomgr

import (
	"fmt"
	"strings"
	"unsafe"
)

func (o *ringOp) String() string {
	if o == nil {
		return "<nil>"
	}

	var b strings.Builder
	st := o.st
	fmt.Fprintf(&b, "RingOp | Id: %d, Fd: 0x%x, Slot: %d, Cancel: %v, Status: %v\n",
		st.Id(), o.b.h.Fd, int(st.Tag)-1, st.CancelRequested(), st.Status())

	var d string
	if st.Done() {
		d = ">"
	} else {
		d = "|"
	}
	buf := st.Buf()
	fmt.Fprintf(&b, "   %s READ      [ Buf: @0x%x | Len: 0x%08x | Off: 0x%08x]\n",
		d, unsafe.Pointer(unsafe.SliceData(buf)), st.Length, st.Offset)

	return b.String()
}
