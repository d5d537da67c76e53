package messaging

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestGetRetryCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{
			name:    "no headers on first delivery",
			headers: nil,
			want:    0,
		},
		{
			name:    "no x-death entry",
			headers: amqp.Table{"content-type": "application/json"},
			want:    0,
		},
		{
			name: "x-death with count",
			headers: amqp.Table{
				"x-death": []interface{}{
					amqp.Table{"count": int64(2), "queue": "pharmstock.events"},
				},
			},
			want: 2,
		},
		{
			name: "x-death entry without count",
			headers: amqp.Table{
				"x-death": []interface{}{
					amqp.Table{"queue": "pharmstock.events"},
				},
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := getRetryCount(amqp.Delivery{Headers: tt.headers})
			if got != tt.want {
				t.Errorf("getRetryCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMaxDeliveryAttemptsDeadLetters(t *testing.T) {
	exhausted := amqp.Delivery{Headers: amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"count": int64(maxDeliveryAttempts)},
		},
	}}
	if getRetryCount(exhausted) < maxDeliveryAttempts {
		t.Errorf("delivery with %d deaths should meet the dead-letter threshold", maxDeliveryAttempts)
	}

	fresh := amqp.Delivery{Headers: amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"count": int64(1)},
		},
	}}
	if getRetryCount(fresh) >= maxDeliveryAttempts {
		t.Error("a first redelivery should still be requeued, not dead-lettered")
	}
}
