//go:build !gosseract

package ocr

var defaultLoader Loader = LoadTesseract
