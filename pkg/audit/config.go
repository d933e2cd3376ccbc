package audit

import (
	"fmt"
	"strings"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the Publisher based on flags.
func Configured() Publisher {
	stream := lflag.String("audit-stream", "none", "Where committed history and audit rows are streamed (available: kafka, none)")
	brokers := lflag.String("kafka-brokers", "localhost:9092", "Comma separated Kafka brokers")
	historyTopic := lflag.String("kafka-history-topic", "peakshift.execution-history", "Topic for execution history rows")
	auditTopic := lflag.String("kafka-audit-topic", "peakshift.audit-events", "Topic for audit events")

	var p struct{ Publisher }

	lflag.Do(func() {
		switch *stream {
		case "kafka":
			var list []string
			for _, b := range strings.Split(*brokers, ",") {
				if b = strings.TrimSpace(b); b != "" {
					list = append(list, b)
				}
			}
			if len(list) == 0 {
				panic("audit-stream kafka requires --kafka-brokers")
			}
			p.Publisher = NewKafkaPublisher(list, *historyTopic, *auditTopic)
		case "none":
			p.Publisher = Discard()
		default:
			panic(fmt.Sprintf("unknown audit stream: %s", *stream))
		}
	})

	return &p
}
