package dispatcher

import "encoding/binary"

// Command headers of the reference encoding. Memory interface (MI) commands
// carry their opcode in bits 28:23 and their length minus two in bits 7:0.
const (
	miNoop                  uint32 = 0x00000000
	miBatchBufferEnd        uint32 = 0x05000000 // opcode 0x0A
	miBatchBufferStartPPGTT uint32 = 0x18800101 // opcode 0x31, PPGTT, length 1
	miSemaphoreWait         uint32 = 0x0E008002 // opcode 0x1C, polling mode, length 2
	miStoreDataImm          uint32 = 0x10000002 // opcode 0x20, length 2
	miLoadRegisterImm       uint32 = 0x11000001 // opcode 0x22, length 1
	miFlushDw               uint32 = 0x13000003 // opcode 0x26, length 3
	pipeControl             uint32 = 0x7A000004 // 3D pipeline, length 4
)

// Command sizes in bytes.
const (
	DwordSize              = 4
	SizeNoop               = DwordSize
	SizeBatchBufferEnd     = DwordSize
	SizeBatchBufferStart   = 3 * DwordSize
	SizeSemaphoreWait      = 4 * DwordSize
	SizeStoreDataImm       = 4 * DwordSize
	SizeLoadRegisterImm    = 3 * DwordSize
	SizeFlushDw            = 5 * DwordSize
	SizePipeControl        = 6 * DwordSize
	compareOperationShift  = 12
	compareOperationMask   = 0x7 << compareOperationShift
	postSyncOperationShift = 14
	postSyncOperationMask  = 0x3 << postSyncOperationShift
)

// CompareGreaterOrEqual makes a semaphore wait pass once the memory value is
// at least the inline data.
const CompareGreaterOrEqual uint32 = 1

// PostSyncWriteImmediate makes a flush write its immediate data once the
// preceding work retired.
const PostSyncWriteImmediate uint32 = 1

// PIPE_CONTROL flag bits.
const (
	pcDCFlushEnable                 uint32 = 1 << 5
	pcTextureCacheInvalidation      uint32 = 1 << 10
	pcRenderTargetCacheFlushEnable  uint32 = 1 << 12
	pcConstantCacheInvalidation     uint32 = 1 << 3
	pcStateCacheInvalidation        uint32 = 1 << 2
	pcInstructionCacheInvalidate    uint32 = 1 << 11
	pcCommandStreamerStallEnable    uint32 = 1 << 20
	pcNotifyEnable                  uint32 = 1 << 8
	pcFullCacheFlush                       = pcDCFlushEnable | pcTextureCacheInvalidation | pcRenderTargetCacheFlushEnable | pcConstantCacheInvalidation | pcStateCacheInvalidation | pcInstructionCacheInvalidate | pcCommandStreamerStallEnable
	csChicken1Register              uint32 = 0x2580
	csChicken1MidBatchPreemptionSet uint32 = (1 << 16) | (1 << 17) | (1 << 2)
)

// Opcode identifies a decoded command.
type Opcode int

const (
	OpUnknown Opcode = iota
	OpNoop
	OpBatchBufferEnd
	OpBatchBufferStart
	OpSemaphoreWait
	OpStoreDataImm
	OpLoadRegisterImm
	OpFlushDw
	OpPipeControl
)

func (o Opcode) String() string {
	switch o {
	case OpNoop:
		return "MI_NOOP"
	case OpBatchBufferEnd:
		return "MI_BATCH_BUFFER_END"
	case OpBatchBufferStart:
		return "MI_BATCH_BUFFER_START"
	case OpSemaphoreWait:
		return "MI_SEMAPHORE_WAIT"
	case OpStoreDataImm:
		return "MI_STORE_DATA_IMM"
	case OpLoadRegisterImm:
		return "MI_LOAD_REGISTER_IMM"
	case OpFlushDw:
		return "MI_FLUSH_DW"
	case OpPipeControl:
		return "PIPE_CONTROL"
	default:
		return "UNKNOWN"
	}
}

// DecodeHeader returns the opcode of a command header and the command length
// in dwords.
func DecodeHeader(header uint32) (Opcode, int) {
	length := int(header&0xFF) + 2
	switch header >> 29 {
	case 0:
		switch (header >> 23) & 0x3F {
		case 0x00:
			return OpNoop, 1
		case 0x0A:
			return OpBatchBufferEnd, 1
		case 0x31:
			return OpBatchBufferStart, length
		case 0x1C:
			return OpSemaphoreWait, length
		case 0x20:
			return OpStoreDataImm, length
		case 0x22:
			return OpLoadRegisterImm, length
		case 0x26:
			return OpFlushDw, length
		}
	case 3:
		if header&0xFFFF0000 == pipeControl&0xFFFF0000 {
			return OpPipeControl, length
		}
	}
	return OpUnknown, 1
}

func putDwords(b []byte, dwords ...uint32) {
	for i, dw := range dwords {
		binary.LittleEndian.PutUint32(b[i*DwordSize:], dw)
	}
}

func dword(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i*DwordSize:])
}

func qword(b []byte, lo int) uint64 {
	return uint64(dword(b, lo)) | uint64(dword(b, lo+1))<<32
}

func lo32(v uint64) uint32 { return uint32(v) }
func hi32(v uint64) uint32 { return uint32(v >> 32) }

// EncodeBatchBufferStart writes a jump to gpuAddress.
func EncodeBatchBufferStart(b []byte, gpuAddress uint64) {
	putDwords(b, miBatchBufferStartPPGTT, lo32(gpuAddress), hi32(gpuAddress))
}

// DecodeBatchBufferStart returns the jump target.
func DecodeBatchBufferStart(b []byte) uint64 {
	return qword(b, 1)
}

// EncodeBatchBufferEnd writes a terminating command.
func EncodeBatchBufferEnd(b []byte) {
	putDwords(b, miBatchBufferEnd)
}

// EncodeSemaphoreWait writes a polling wait until the dword at gpuAddress is
// greater than or equal to value.
func EncodeSemaphoreWait(b []byte, gpuAddress uint64, value uint32) {
	header := miSemaphoreWait | CompareGreaterOrEqual<<compareOperationShift
	putDwords(b, header, value, lo32(gpuAddress), hi32(gpuAddress))
}

// DecodeSemaphoreWait returns the compare operation, semaphore address and
// inline value.
func DecodeSemaphoreWait(b []byte) (compare uint32, gpuAddress uint64, value uint32) {
	compare = (dword(b, 0) & compareOperationMask) >> compareOperationShift
	return compare, qword(b, 2), dword(b, 1)
}

// EncodeStoreDataImm writes a store of one dword to gpuAddress.
func EncodeStoreDataImm(b []byte, gpuAddress uint64, value uint32) {
	putDwords(b, miStoreDataImm, lo32(gpuAddress), hi32(gpuAddress), value)
}

// DecodeStoreDataImm returns the store address and value.
func DecodeStoreDataImm(b []byte) (gpuAddress uint64, value uint32) {
	return qword(b, 1), dword(b, 3)
}

// EncodeLoadRegisterImm writes an MMIO register load.
func EncodeLoadRegisterImm(b []byte, register, value uint32) {
	putDwords(b, miLoadRegisterImm, register, value)
}

// EncodePipeControl writes a render pipeline flush. A non-zero postSync
// writes data to gpuAddress once the flush completes.
func EncodePipeControl(b []byte, flags, postSync uint32, gpuAddress, data uint64) {
	flags |= postSync << postSyncOperationShift
	putDwords(b, pipeControl, flags, lo32(gpuAddress), hi32(gpuAddress), lo32(data), hi32(data))
}

// EncodeFlushDw writes a blitter flush with an optional post-sync write.
func EncodeFlushDw(b []byte, postSync uint32, gpuAddress, data uint64) {
	header := miFlushDw | postSync<<postSyncOperationShift
	putDwords(b, header, lo32(gpuAddress), hi32(gpuAddress), lo32(data), hi32(data))
}

// DecodePostSync extracts the post-sync write of a PIPE_CONTROL or
// MI_FLUSH_DW command.
func DecodePostSync(op Opcode, b []byte) (write bool, gpuAddress, data uint64) {
	switch op {
	case OpPipeControl:
		flags := dword(b, 1)
		write = (flags&postSyncOperationMask)>>postSyncOperationShift == PostSyncWriteImmediate
		return write, qword(b, 2), qword(b, 4)
	case OpFlushDw:
		header := dword(b, 0)
		write = (header&postSyncOperationMask)>>postSyncOperationShift == PostSyncWriteImmediate
		return write, qword(b, 1), qword(b, 3)
	}
	return false, 0, 0
}
