package store

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark || t == ThemeAuto
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"` // Never exposed in JSON responses
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	ThreadID  string    `json:"threadId"` // Upstream agent memory key, fixed at creation
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationPatch holds the mutable conversation fields. Nil fields are left untouched.
type ConversationPatch struct {
	Title *string `json:"title,omitempty"`
}

type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata,omitempty"` // Opaque to the store
	CreatedAt      time.Time       `json:"createdAt"`
}

type Location struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	City string  `json:"city"`
}

type Settings struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Theme         Theme     `json:"theme"`
	Language      string    `json:"language"`
	WeatherAlerts bool      `json:"weatherAlerts"`
	SoundEnabled  bool      `json:"soundEnabled"`
	Location      *Location `json:"location"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SettingsPatch is a partial settings update. Nil fields are left untouched.
type SettingsPatch struct {
	Theme         *Theme    `json:"theme,omitempty"`
	Language      *string   `json:"language,omitempty"`
	WeatherAlerts *bool     `json:"weatherAlerts,omitempty"`
	SoundEnabled  *bool     `json:"soundEnabled,omitempty"`
	Location      *Location `json:"location,omitempty"`
}

// Apply copies every set field of p onto s.
func (p SettingsPatch) Apply(s *Settings) {
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
	if p.WeatherAlerts != nil {
		s.WeatherAlerts = *p.WeatherAlerts
	}
	if p.SoundEnabled != nil {
		s.SoundEnabled = *p.SoundEnabled
	}
	if p.Location != nil {
		loc := *p.Location
		s.Location = &loc
	}
}

// WeatherData is the weather card payload an assistant message may carry in its metadata.
type WeatherData struct {
	Temperature float64       `json:"temperature"`
	Humidity    float64       `json:"humidity"`
	Description string        `json:"description"`
	WindSpeed   float64       `json:"windSpeed"`
	Visibility  float64       `json:"visibility"`
	Location    string        `json:"location"`
	Forecast    []ForecastDay `json:"forecast,omitempty"`
}

type ForecastDay struct {
	Day         string  `json:"day"`
	Icon        string  `json:"icon"`
	Temperature float64 `json:"temperature"`
}

// MessageMetadata is the conventional shape of Message.Metadata.
type MessageMetadata struct {
	Timestamp   string       `json:"timestamp,omitempty"`
	WeatherData *WeatherData `json:"weatherData,omitempty"`
	Location    *Location    `json:"location,omitempty"`
}
