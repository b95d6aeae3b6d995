package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/autonet/internal/domain"
)

// Ошибки расписаний.
var (
	// ErrNoTrigger — не задан ни cron_expr, ни interval_sec.
	ErrNoTrigger = errors.New("schedule has neither cron_expr nor interval_sec")

	// ErrInvalidTimezone — неизвестный часовой пояс.
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// cronParser — парсер cron-выражений (5 полей, без секунд).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CalculateNextDue вычисляет следующее время выполнения schedule после from.
// Cron-выражение интерпретируется в timezone расписания; результат в UTC.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	loc, err := location(sched.Timezone)
	if err != nil {
		// Расписание уже сохранено: некорректный пояс не должен его останавливать
		loc = time.UTC
	}
	from = from.In(loc)

	switch {
	case sched.IsCron():
		schedule, err := cronParser.Parse(sched.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
		}
		return schedule.Next(from).UTC(), nil

	case sched.IsInterval():
		return from.Add(time.Duration(sched.IntervalSec) * time.Second).UTC(), nil
	}

	return time.Time{}, ErrNoTrigger
}

// CalculateInitialNextDue вычисляет первое время выполнения для нового schedule.
func CalculateInitialNextDue(sched *domain.Schedule) (time.Time, error) {
	return CalculateNextDue(sched, time.Now())
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// ValidateSchedule проверяет расписание перед сохранением.
func ValidateSchedule(sched *domain.Schedule) error {
	if sched.GraphName == "" {
		return errors.New("graph_name is required")
	}
	if sched.RunMethod != "" && !sched.RunMethod.Valid() {
		return fmt.Errorf("invalid run_method %q", sched.RunMethod)
	}
	if _, err := location(sched.Timezone); err != nil {
		return err
	}
	switch {
	case sched.IsCron():
		return ValidateCronExpr(sched.CronExpr)
	case sched.IntervalSec < 0:
		return fmt.Errorf("interval_sec must be positive, got %d", sched.IntervalSec)
	case sched.IsInterval():
		return nil
	}
	return ErrNoTrigger
}

// location загружает часовой пояс; пустая строка — UTC.
func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTimezone, tz, err)
	}
	return loc, nil
}
