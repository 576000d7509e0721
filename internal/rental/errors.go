package rental

import "errors"

var (
	// ErrNotFound 车牌或租约 id 不存在。
	ErrNotFound = errors.New("rental: not found")
	// ErrInvalidRange 要求 start 严格早于 end。
	ErrInvalidRange = errors.New("rental: invalid date range")
	// ErrUnavailable 预检发现区间已被占用（未进入提交事务）。
	ErrUnavailable = errors.New("rental: vehicle unavailable for range")
	// ErrAlreadyBooked 事务内复检失败：并发请求抢先占用了区间。
	ErrAlreadyBooked = errors.New("rental: already booked")
	// ErrAlreadyReturned 重复归还。第二次调用是被拒绝，不是被静默接受。
	ErrAlreadyReturned = errors.New("rental: already returned")
)
