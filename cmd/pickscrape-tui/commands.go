package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/adityalohuni/pickscrape/internal/admin"
	"github.com/adityalohuni/pickscrape/internal/adminclient"
	"github.com/adityalohuni/pickscrape/internal/api"
	"github.com/adityalohuni/pickscrape/internal/config"
	"github.com/adityalohuni/pickscrape/internal/protocol"
	"github.com/adityalohuni/pickscrape/internal/session"
)

type loadResultMsg struct {
	status   admin.Status
	sessions []session.Info
	err      error
	at       time.Time
}

type peekResultMsg struct {
	id       string
	elements []protocol.SelectedElement
	err      error
}

type cancelResultMsg struct {
	id  string
	err error
}

type captureResultMsg struct {
	url string
	res api.CaptureResponse
	err error
}

type configSavedMsg struct {
	settings config.Settings
	err      error
}

type configReloadedMsg struct {
	settings config.Settings
	err      error
}

type tickMsg time.Time

func fetchCmd(client *adminclient.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		status, err := client.Status(ctx)
		if err != nil {
			return loadResultMsg{err: err}
		}
		sessions, err := client.Sessions(ctx)
		if err != nil {
			return loadResultMsg{err: err}
		}
		return loadResultMsg{status: status, sessions: sessions, at: time.Now()}
	}
}

func peekCmd(client *adminclient.Client, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		elements, err := client.Peek(ctx, id)
		return peekResultMsg{id: id, elements: elements, err: err}
	}
}

func cancelCmd(client *adminclient.Client, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return cancelResultMsg{id: id, err: client.CancelSession(ctx, id)}
	}
}

func captureCmd(client *adminclient.Client, url string) tea.Cmd {
	return func() tea.Msg {
		res, err := client.Capture(context.Background(), url)
		return captureResultMsg{url: url, res: res, err: err}
	}
}

func saveConfigCmd(current config.Settings, form []string) tea.Cmd {
	return func() tea.Msg {
		next, err := formToSettings(current, form)
		if err != nil {
			return configSavedMsg{err: err}
		}
		saved, err := config.Save(next)
		if err != nil {
			return configSavedMsg{err: err}
		}
		return configSavedMsg{settings: saved}
	}
}

func reloadConfigCmd(path string) tea.Cmd {
	return func() tea.Msg {
		cfg, err := config.LoadOrCreate(path)
		if err != nil {
			return configReloadedMsg{err: err}
		}
		return configReloadedMsg{settings: cfg}
	}
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}
