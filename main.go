package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"dosgo/btSerial/comm"
	"dosgo/btSerial/comm/bluez"
	"dosgo/btSerial/dc"
)

// AppUI is the desktop front end: pick a paired dive computer, open the
// RFCOMM link, and share it over TCP.
type AppUI struct {
	app    fyne.App
	window fyne.Window
	config *comm.Config
	dctx   *dc.Context

	macEntry     *widget.Entry
	deviceSelect *widget.Select
	portEntry    *widget.Entry
	autoStart    *widget.Check
	connectBtn   *widget.Button
	bridgeBtn    *widget.Button
	statusLabel  *widget.Label

	showMenu *fyne.MenuItem
	quitMenu *fyne.MenuItem

	devices []bluez.Device
	serial  *dc.Serial
	bridge  *comm.Bridge
	cancel  context.CancelFunc
}

func NewAppUI() *AppUI {
	a := app.NewWithID("com.dosgo.btserial")
	w := a.NewWindow("Bluetooth Serial")
	a.SetIcon(theme.ComputerIcon())

	dctx := dc.NewContext()
	cfg := comm.LoadConfig(dctx, comm.DefaultConfigFile)
	dctx.SetLogLevel(dc.ParseLogLevel(cfg.LogLevel))

	return &AppUI{
		app:    a,
		window: w,
		config: cfg,
		dctx:   dctx,
	}
}

func validateMAC(s string) error {
	if s == "" {
		return errors.New("address must not be empty")
	}
	if _, err := comm.ParseAddress(s); err != nil {
		return errors.New("address must be six hex bytes, e.g. 00:11:22:33:44:55")
	}
	return nil
}

func (ui *AppUI) createUI() fyne.CanvasObject {
	ui.macEntry = widget.NewEntry()
	ui.macEntry.SetPlaceHolder("Bluetooth address (e.g. 00:11:22:33:44:55)")
	ui.macEntry.SetText(ui.config.BluetoothMAC)
	ui.macEntry.Validator = validateMAC

	ui.deviceSelect = widget.NewSelect(nil, func(name string) {
		for _, d := range ui.devices {
			if d.DisplayName()+" ("+d.Address+")" == name {
				ui.macEntry.SetText(d.Address)
				return
			}
		}
	})
	ui.deviceSelect.PlaceHolder = "Paired devices"
	refreshBtn := widget.NewButtonWithIcon("", theme.ViewRefreshIcon(), func() {
		ui.refreshDevices()
	})

	ui.portEntry = widget.NewEntry()
	ui.portEntry.SetText(strconv.Itoa(ui.config.BridgePort))
	ui.portEntry.Validator = func(s string) error {
		if p, err := strconv.Atoi(s); err != nil || p <= 0 || p > 65535 {
			return errors.New("port must be 1-65535")
		}
		return nil
	}

	ui.autoStart = widget.NewCheck("Connect on start", func(checked bool) {
		ui.config.AutoStart = checked
		ui.saveConfig()
	})
	ui.autoStart.SetChecked(ui.config.AutoStart)

	ui.connectBtn = widget.NewButton("Connect", func() {
		if ui.serial != nil {
			ui.disconnect()
			return
		}
		ui.connect()
	})
	ui.connectBtn.Importance = widget.HighImportance

	ui.bridgeBtn = widget.NewButton("Start TCP bridge", func() {
		if ui.bridge != nil {
			ui.stopBridge()
			return
		}
		if err := ui.startBridge(); err != nil {
			dialog.ShowError(err, ui.window)
		}
	})
	ui.bridgeBtn.Disable()

	hideBtn := widget.NewButton("Hide to tray", func() {
		ui.hideToTray()
	})

	ui.statusLabel = widget.NewLabel("Ready")

	form := container.NewVBox(
		widget.NewLabelWithStyle("Device", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		container.NewBorder(nil, nil, nil, refreshBtn, ui.deviceSelect),
		ui.macEntry,
		ui.autoStart,
		widget.NewSeparator(),
		widget.NewLabelWithStyle("TCP bridge port", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		ui.portEntry,
		layout.NewSpacer(),
		container.NewHBox(ui.connectBtn, ui.bridgeBtn, layout.NewSpacer(), hideBtn),
		widget.NewSeparator(),
		container.NewHBox(layout.NewSpacer(), ui.statusLabel),
	)
	return container.NewPadded(form)
}

func (ui *AppUI) setStatus(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fyne.Do(func() { ui.statusLabel.SetText(msg) })
}

func (ui *AppUI) saveConfig() {
	if err := comm.SaveConfig(comm.DefaultConfigFile, ui.config); err != nil {
		ui.dctx.Log("gui").Warnf("save config: %v", err)
	}
}

func (ui *AppUI) refreshDevices() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		devices, err := bluez.PairedDevices(ctx)
		if err != nil {
			ui.setStatus("Device list unavailable: %v", err)
			return
		}
		names := make([]string, 0, len(devices))
		for _, d := range devices {
			names = append(names, d.DisplayName()+" ("+d.Address+")")
		}
		fyne.Do(func() {
			ui.devices = devices
			ui.deviceSelect.Options = names
			ui.deviceSelect.Refresh()
		})
		ui.setStatus("%d paired devices", len(devices))
	}()
}

func (ui *AppUI) connect() {
	if err := ui.macEntry.Validate(); err != nil {
		dialog.ShowError(fmt.Errorf("invalid address: %w", err), ui.window)
		return
	}
	ui.config.BluetoothMAC = strings.TrimSpace(ui.macEntry.Text)
	ui.config.Backend = "bluetooth"
	ui.saveConfig()

	ctx, cancel := context.WithCancel(context.Background())
	ui.cancel = cancel
	ui.connectBtn.SetText("Cancel")
	ui.setStatus("Connecting to %s...", ui.config.BluetoothMAC)

	go func() {
		s, err := ui.config.Open(ctx, ui.dctx)
		fyne.Do(func() {
			ui.cancel = nil
			if err != nil {
				ui.connectBtn.SetText("Connect")
				ui.statusLabel.SetText(fmt.Sprintf("Connection failed: %v", dc.StatusOf(err)))
				if !errors.Is(err, dc.Cancelled) {
					dialog.ShowError(err, ui.window)
				}
				return
			}
			ui.serial = s
			ui.connectBtn.SetText("Disconnect")
			ui.bridgeBtn.Enable()
			ui.statusLabel.SetText(fmt.Sprintf("Connected to %s over %s", ui.config.BluetoothMAC, s.Type))
		})
	}()
}

func (ui *AppUI) disconnect() {
	if ui.cancel != nil {
		ui.cancel()
		return
	}
	ui.stopBridge()
	ui.serial.Close()
	ui.serial = nil
	ui.connectBtn.SetText("Connect")
	ui.bridgeBtn.Disable()
	ui.statusLabel.SetText("Disconnected")
}

func (ui *AppUI) startBridge() error {
	if err := ui.portEntry.Validate(); err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	port, _ := strconv.Atoi(ui.portEntry.Text)
	ui.config.BridgePort = port
	ui.saveConfig()

	b := comm.NewBridge(ui.dctx, ui.serial)
	if err := b.Listen(fmt.Sprintf(":%d", port)); err != nil {
		return err
	}
	ui.bridge = b
	go func() {
		if err := b.Serve(context.Background()); err != nil {
			ui.setStatus("Bridge stopped: %v", err)
		}
	}()
	ui.bridgeBtn.SetText("Stop TCP bridge")
	ui.statusLabel.SetText(fmt.Sprintf("Bridging on %s", b.Addr()))
	return nil
}

func (ui *AppUI) stopBridge() {
	if ui.bridge == nil {
		return
	}
	// Close returns once the session has let go of the serial handle.
	ui.bridge.Close()
	ui.bridge = nil
	ui.bridgeBtn.SetText("Start TCP bridge")
}

func (ui *AppUI) hideToTray() {
	if desk, ok := ui.app.(desktop.App); ok {
		ui.setupTray(desk)
		ui.window.Hide()
	} else {
		dialog.ShowInformation("Tray", "This platform has no system tray", ui.window)
	}
}

func (ui *AppUI) setupTray(desk desktop.App) {
	ui.showMenu = fyne.NewMenuItem("Show window", func() {
		ui.window.Show()
	})
	ui.quitMenu = fyne.NewMenuItem("Quit", func() {
		ui.shutdown()
		ui.app.Quit()
	})
	desk.SetSystemTrayMenu(fyne.NewMenu("Bluetooth Serial",
		ui.showMenu,
		fyne.NewMenuItemSeparator(),
		ui.quitMenu,
	))
}

func (ui *AppUI) shutdown() {
	ui.stopBridge()
	if ui.serial != nil {
		ui.serial.Close()
		ui.serial = nil
	}
}

func (ui *AppUI) Run() {
	ui.window.SetContent(ui.createUI())
	ui.window.Resize(fyne.NewSize(420, 360))
	ui.window.SetMaster()
	ui.window.CenterOnScreen()

	if desk, ok := ui.app.(desktop.App); ok {
		ui.setupTray(desk)
		ui.window.SetCloseIntercept(func() {
			ui.window.Hide()
		})
	}
	ui.window.SetOnClosed(ui.shutdown)

	ui.refreshDevices()
	if ui.config.AutoStart && ui.config.BluetoothMAC != "" {
		ui.connect()
	}
	ui.window.ShowAndRun()
}

func main() {
	ui := NewAppUI()
	ui.Run()
}
