package topic

import "testing"

func TestValidateTopicName(t *testing.T) {
	cases := []struct {
		name    string
		topic   string
		wantErr bool
	}{
		{"plain", "sensors/kitchen/temp", false},
		{"empty levels allowed", "a//b/", false},
		{"empty", "", true},
		{"plus wildcard", "sensors/+/temp", true},
		{"hash wildcard", "sensors/#", true},
		{"null byte", "a\x00b", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateTopicName(c.topic)
			if (err != nil) != c.wantErr {
				t.Fatalf("ValidateTopicName(%q) err=%v, wantErr=%v", c.topic, err, c.wantErr)
			}
		})
	}
}

func TestValidateFilter(t *testing.T) {
	cases := []struct {
		name    string
		filter  string
		wantErr bool
	}{
		{"plain", "sensors/kitchen/temp", false},
		{"single level wildcard", "sensors/+/temp", false},
		{"trailing multi wildcard", "sensors/#", false},
		{"bare multi wildcard", "#", false},
		{"multi wildcard not last", "sensors/#/temp", true},
		{"multi wildcard not alone", "sensors/temp#", true},
		{"single wildcard not alone", "sensors/temp+", true},
		{"empty", "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateFilter(c.filter)
			if (err != nil) != c.wantErr {
				t.Fatalf("ValidateFilter(%q) err=%v, wantErr=%v", c.filter, err, c.wantErr)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"sport/tennis/player1", "sport/tennis/player1", true},
		{"sport/tennis/player1/#", "sport/tennis/player1", true},
		{"sport/tennis/player1/#", "sport/tennis/player1/ranking", true},
		{"sport/tennis/player1/#", "sport/tennis/player1/score/wimbledon", true},
		{"sport/+", "sport/tennis", true},
		{"sport/+", "sport/tennis/ranking", false},
		{"sport/+/player1", "sport/tennis/player1", true},
		{"+/+", "/finance", true},
		{"/+", "/finance", true},
		{"+", "/finance", false},
		{"#", "$SYS/broker/clients", false},
		{"$SYS/#", "$SYS/broker/clients", true},
		{"+/monitor/Clients", "$SYS/monitor/Clients", false},
		{"sport/tennis/#", "sport/tennis", true},
	}
	for _, c := range cases {
		t.Run(c.filter+"|"+c.topic, func(t *testing.T) {
			if got := Matches(c.filter, c.topic); got != c.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", c.filter, c.topic, got, c.want)
			}
		})
	}
}
