//go:build linux && cgo

package shm

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>
#include <semaphore.h>
#include <errno.h>

#define RING_BUFFER_SIZE 30
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

// Frame layout written by the camera daemon
typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    float brightness_avg;
    uint32_t brightness_lux;
    uint8_t brightness_zone;
    uint8_t correction_applied;
    uint8_t _reserved[2];
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    uint8_t new_frame_sem[32];  // sem_t
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

// RDWR is needed for sem_timedwait
static SharedFrameBuffer* open_shm(const char* name) {
    int fd = shm_open(name, O_RDWR, 0666);
    if (fd == -1) {
        return NULL;
    }

    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL,
        sizeof(SharedFrameBuffer),
        PROT_READ | PROT_WRITE,
        MAP_SHARED,
        fd,
        0
    );

    close(fd);

    if (shm == MAP_FAILED) {
        return NULL;
    }

    return shm;
}

// 0 on new frame, negative errno otherwise (-ETIMEDOUT on timeout)
static int wait_new_frame(SharedFrameBuffer* shm, int timeout_ms) {
    if (shm == NULL) {
        return -EINVAL;
    }

    struct timespec ts;
    if (clock_gettime(CLOCK_REALTIME, &ts) != 0) {
        return -errno;
    }

    ts.tv_sec += timeout_ms / 1000;
    ts.tv_nsec += (timeout_ms % 1000) * 1000000;
    if (ts.tv_nsec >= 1000000000) {
        ts.tv_sec += 1;
        ts.tv_nsec -= 1000000000;
    }

    if (sem_timedwait((sem_t*)&shm->new_frame_sem, &ts) == -1) {
        return -errno;
    }
    return 0;
}

static void close_shm(SharedFrameBuffer* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(SharedFrameBuffer));
    }
}

static uint32_t get_write_index(SharedFrameBuffer* shm) {
    return __atomic_load_n(&shm->write_index, __ATOMIC_ACQUIRE);
}

static int read_frame(SharedFrameBuffer* shm, uint32_t index, Frame* out) {
    if (index >= RING_BUFFER_SIZE) {
        return -1;
    }
    memcpy(out, &shm->frames[index], sizeof(Frame));
    return 0;
}
*/
import "C"

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/pkg/types"
)

const (
	etimedout = 110
	eintr     = 4

	// Slice of semaphore wait between context checks
	waitSlice = 100 * time.Millisecond
)

// Reader pulls the newest camera frame out of the daemon's ring buffer.
// It implements camera.Source.
type Reader struct {
	shm          *C.SharedFrameBuffer
	shmName      string
	frameTimeout time.Duration
	lastFrame    uint64
	haveFrame    bool
}

// NewReader opens the ring buffer, waiting up to openTimeout for the camera
// daemon to create it. The wait ends early when ctx is done. frameTimeout
// bounds how long Next waits for a new frame before reporting the camera as gone.
func NewReader(ctx context.Context, shmName string, openTimeout, frameTimeout time.Duration) (*Reader, error) {
	if shmName == "" {
		shmName = DefaultName
	}

	cName := C.CString(shmName)
	defer C.free(unsafe.Pointer(cName))

	var shm *C.SharedFrameBuffer
	deadline := time.Now().Add(openTimeout)
	retry := time.NewTicker(time.Second)
	defer retry.Stop()
	for attempt := 0; ; attempt++ {
		shm = C.open_shm(cName)
		if shm != nil || time.Now().After(deadline) {
			break
		}
		if attempt%5 == 0 {
			logger.Info("Reader", "Waiting for shared memory %s to appear...", shmName)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for shared memory %s: %w", shmName, ctx.Err())
		case <-retry.C:
		}
	}

	if shm == nil {
		return nil, fmt.Errorf("failed to open shared memory: %s (timeout after %s)", shmName, openTimeout)
	}

	logger.Info("Reader", "Successfully opened shared memory: %s", shmName)

	return &Reader{
		shm:          shm,
		shmName:      shmName,
		frameTimeout: frameTimeout,
	}, nil
}

// Next blocks until the daemon publishes a frame newer than the last one returned
func (r *Reader) Next(ctx context.Context) (*types.Frame, error) {
	if r.shm == nil {
		return nil, fmt.Errorf("shared memory not open")
	}

	deadline := time.Now().Add(r.frameTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := r.readLatest()
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}

		if r.frameTimeout > 0 && time.Now().After(deadline) {
			return nil, fmt.Errorf("no frame from %s for %s", r.shmName, r.frameTimeout)
		}

		if err := r.waitNewFrame(waitSlice); err != nil {
			return nil, err
		}
	}
}

// Close unmaps the ring buffer
func (r *Reader) Close() error {
	if r.shm != nil {
		C.close_shm(r.shm)
		r.shm = nil
	}
	return nil
}

// readLatest returns nil, nil when there is nothing new
func (r *Reader) readLatest() (*types.Frame, error) {
	writeIndex := uint32(C.get_write_index(r.shm))
	if writeIndex == 0 {
		return nil, nil
	}

	index := (writeIndex - 1) % RingBufferSize

	var cFrame C.Frame
	if C.read_frame(r.shm, C.uint32_t(index), &cFrame) != 0 {
		return nil, fmt.Errorf("failed to read frame at index %d", index)
	}

	frameNum := uint64(cFrame.frame_number)
	if r.haveFrame && frameNum == r.lastFrame {
		return nil, nil
	}

	dataSize := int(cFrame.data_size)
	if dataSize <= 0 || dataSize > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame size %d", dataSize)
	}
	data := C.GoBytes(unsafe.Pointer(&cFrame.data[0]), C.int(dataSize))

	img, err := Decode(int(cFrame.format), int(cFrame.width), int(cFrame.height), data)
	if err != nil {
		// A torn or unsupported frame is skipped, the next one may be fine
		logger.Debug("Reader", "Skipping frame %d: %v", frameNum, err)
		r.lastFrame, r.haveFrame = frameNum, true
		return nil, nil
	}

	r.lastFrame, r.haveFrame = frameNum, true

	return &types.Frame{
		Image:     img,
		Timestamp: time.Unix(int64(cFrame.timestamp.tv_sec), int64(cFrame.timestamp.tv_nsec)),
		FrameNum:  frameNum,
	}, nil
}

// waitNewFrame treats timeouts and interrupts as "try again"
func (r *Reader) waitNewFrame(timeout time.Duration) error {
	result := int(C.wait_new_frame(r.shm, C.int(timeout.Milliseconds())))
	if result == 0 {
		return nil
	}

	switch errNum := -result; errNum {
	case etimedout, eintr:
		return nil
	default:
		return fmt.Errorf("semaphore wait failed (errno %d)", errNum)
	}
}
