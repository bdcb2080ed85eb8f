package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// PrimaryCalendar addresses the account's default calendar.
const PrimaryCalendar = "primary"

// Event is the provider-neutral shape of a calendar entry.
type Event struct {
	Summary     string
	Description string
	ColorID     string
	Start       time.Time
	End         time.Time
	TimeZone    string
	// Private lands in the event's private extended properties.
	Private map[string]string
}

// EventRef identifies a created event.
type EventRef struct {
	ID   string
	Link string
}

// CalendarClient is a Google Calendar API client authenticated per call with
// the installation's token.
type CalendarClient struct {
	calendarName string
	opts         []option.ClientOption

	mu         sync.Mutex
	calendarID string
}

// NewCalendarClient creates a client for the calendar with the given name.
// Extra options are appended after the token source, so tests can redirect
// the endpoint.
func NewCalendarClient(calendarName string, opts ...option.ClientOption) *CalendarClient {
	if calendarName == "" {
		calendarName = PrimaryCalendar
	}
	return &CalendarClient{calendarName: calendarName, opts: opts}
}

func (c *CalendarClient) service(ctx context.Context, tok *oauth2.Token) (*calendar.Service, string, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(tok))}, c.opts...)
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	calendarID, err := c.resolveCalendarID(ctx, srv)
	if err != nil {
		return nil, "", err
	}
	return srv, calendarID, nil
}

// resolveCalendarID maps the configured calendar name to its id once.
func (c *CalendarClient) resolveCalendarID(ctx context.Context, srv *calendar.Service) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calendarID != "" {
		return c.calendarID, nil
	}
	if c.calendarName == PrimaryCalendar {
		c.calendarID = PrimaryCalendar
		return c.calendarID, nil
	}

	calendarList, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	for _, item := range calendarList.Items {
		if item.Summary == c.calendarName || item.Id == c.calendarName {
			c.calendarID = item.Id
			return c.calendarID, nil
		}
	}
	return "", fmt.Errorf("calendar '%s' not found", c.calendarName)
}

// InsertEvent creates a new event.
func (c *CalendarClient) InsertEvent(ctx context.Context, tok *oauth2.Token, ev Event) (EventRef, error) {
	srv, calendarID, err := c.service(ctx, tok)
	if err != nil {
		return EventRef{}, err
	}
	created, err := srv.Events.Insert(calendarID, toCalendarEvent(ev)).Context(ctx).Do()
	if err != nil {
		return EventRef{}, fmt.Errorf("unable to create event: %w", err)
	}
	return EventRef{ID: created.Id, Link: created.HtmlLink}, nil
}

// PatchEvent performs a partial update of summary, colour and time window.
func (c *CalendarClient) PatchEvent(ctx context.Context, tok *oauth2.Token, eventID string, ev Event) error {
	srv, calendarID, err := c.service(ctx, tok)
	if err != nil {
		return err
	}
	full := toCalendarEvent(ev)
	patch := &calendar.Event{
		Summary: full.Summary,
		ColorId: full.ColorId,
		Start:   full.Start,
		End:     full.End,
	}
	if _, err := srv.Events.Patch(calendarID, eventID, patch).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to patch event %s: %w", eventID, err)
	}
	return nil
}

// DeleteEvent deletes an event. An event that is already gone counts as deleted.
func (c *CalendarClient) DeleteEvent(ctx context.Context, tok *oauth2.Token, eventID string) error {
	srv, calendarID, err := c.service(ctx, tok)
	if err != nil {
		return err
	}
	err = srv.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err != nil && !isGone(err) {
		return fmt.Errorf("unable to delete event %s: %w", eventID, err)
	}
	return nil
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}

func toCalendarEvent(ev Event) *calendar.Event {
	event := &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		ColorId:     ev.ColorID,
		Start: &calendar.EventDateTime{
			DateTime: ev.Start.Format(time.RFC3339),
			TimeZone: ev.TimeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: ev.End.Format(time.RFC3339),
			TimeZone: ev.TimeZone,
		},
	}
	if len(ev.Private) > 0 {
		event.ExtendedProperties = &calendar.EventExtendedProperties{Private: ev.Private}
	}
	return event
}
