// Constants
package internal

const KiB = 0x400
const MiB = KiB * KiB

// Matches the OS page size on basically everything we run on (`getconf PAGESIZE`).
// Buffers handed to O_DIRECT / FILE_FLAG_NO_BUFFERING reads must be aligned to this.
const ALIGN = 0x1000

// 64KiB
const DEFAULT_CHUNK_SIZE = 0x10 * ALIGN

const RING_ENTRIES = 0x40
const POOL_WORKERS = 0x04
const PORT_THREADS = 0x02

// Upper bound for a single request. io_uring and ReadFile both take a 32 bit length.
const MAX_RW = 0x7ffff000
