package models

const (
	NotifyBookingCreated   = "booking_created"
	NotifyPaymentConfirmed = "payment_confirmed"
	NotifyStayCompleted    = "stay_completed"
	NotifyBookingCancelled = "booking_cancelled"
)

const (
	// WorkerQueueSize размер очереди воркера уведомлений
	WorkerQueueSize = 1000

	// DefaultSweepInterval период повторной проверки просроченных броней, секунды
	DefaultSweepInterval = 5 * 60

	// DefaultLockTTL время жизни блокировки календаря объекта, секунды
	DefaultLockTTL = 10

	// SessionDedupeTTL время хранения обработанных платежных сессий, секунды
	SessionDedupeTTL = 24 * 60 * 60

	// RateLimitRPS лимит запросов API в секунду по умолчанию
	RateLimitRPS = 20
)
