package elfload_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gopintos/kernel/internal/addrspace"
	"github.com/gopintos/kernel/internal/elfload"
	"github.com/gopintos/kernel/internal/kcommon"
)

func TestLoadMapsPTLoadSegmentAndReturnsEntry(t *testing.T) {
	const entry = addrspace.Base
	image := buildELF(t, entry, []byte{0x90, 0x90, 0x90, 0x90}) // nop nop nop nop

	as, aerr := addrspace.New()
	require.Equal(t, kcommon.Err_t(0), aerr)

	loader := elfload.New()
	got, lerr := loader.Load(image, as)
	require.Equal(t, kcommon.Err_t(0), lerr)
	require.EqualValues(t, entry, got)

	mapped, rerr := as.ReadUser(entry, 4)
	require.Equal(t, kcommon.Err_t(0), rerr)
	require.Equal(t, []byte{0x90, 0x90, 0x90, 0x90}, mapped)
}

func TestLoadZeroFillsBSSBeyondFilesz(t *testing.T) {
	const entry = addrspace.Base
	image := buildELFWithMemsz(t, entry, []byte{1, 2}, 6)

	as, _ := addrspace.New()
	loader := elfload.New()
	_, lerr := loader.Load(image, as)
	require.Equal(t, kcommon.Err_t(0), lerr)

	mapped, rerr := as.ReadUser(entry, 6)
	require.Equal(t, kcommon.Err_t(0), rerr)
	require.Equal(t, []byte{1, 2, 0, 0, 0, 0}, mapped, "bytes beyond filesz must come back zeroed")
}

func TestLoadRejectsNonExecutableType(t *testing.T) {
	image := buildELF(t, addrspace.Base, []byte{1})
	image[16] = 1 // e_type = ET_REL, not ET_EXEC

	as, _ := addrspace.New()
	loader := elfload.New()
	_, lerr := loader.Load(image, as)
	require.NotEqual(t, kcommon.Err_t(0), lerr)
}

func buildELF(t *testing.T, entry uintptr, data []byte) []byte {
	return buildELFWithMemsz(t, entry, data, len(data))
}

// buildELFWithMemsz builds the smallest valid ELF64 ET_EXEC image elfload
// can parse via debug/elf: a header, one PT_LOAD program header covering
// [entry, entry+memsz), and no section headers (the loader never reads
// sections).
func buildELFWithMemsz(t *testing.T, entry uintptr, data []byte, memsz int) []byte {
	t.Helper()
	const phoff = 64
	img := make([]byte, phoff+56)

	copy(img[0:4], []byte{0x7f, 'E', 'L', 'F'})
	img[4] = 2 // ELFCLASS64
	img[5] = 1 // little endian
	img[6] = 1 // EV_CURRENT
	putU16(img[16:], 2)     // e_type = ET_EXEC
	putU16(img[18:], 0x3e)  // e_machine = EM_X86_64
	putU32(img[20:], 1)     // e_version
	putU64(img[24:], uint64(entry))
	putU64(img[32:], phoff) // e_phoff
	putU16(img[52:], 64)    // e_ehsize
	putU16(img[54:], 56)    // e_phentsize
	putU16(img[56:], 1)     // e_phnum

	ph := img[phoff:]
	putU32(ph[0:], 1)             // p_type = PT_LOAD
	putU32(ph[4:], 5)             // p_flags = R+X
	putU64(ph[8:], phoff+56)      // p_offset: segment data follows the header
	putU64(ph[16:], uint64(entry))
	putU64(ph[24:], uint64(entry))
	putU64(ph[32:], uint64(len(data)))
	putU64(ph[40:], uint64(memsz))
	putU64(ph[48:], 0x1000) // p_align

	img = append(img, data...)
	return img
}

func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
