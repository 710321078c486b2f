package engine

import "fmt"

// Spoken prompts
const (
	msgLoginWelcome     = `Welcome. Look at the camera and say "shoot" to login.`
	msgTakePicture      = `OK. Say "shoot" to take picture of the patient.`
	msgChooseFlow       = `Please say "add patient" or "check patient" first.`
	msgShootToLogin     = `Look at the camera and say "shoot" to login.`
	msgGoodbye          = "OK. Good bye."
	msgCheckingPatient  = "Checking patient, please wait..."
	msgPatientNotFound  = "Patient not found. What would you like to do ?"
	msgCheckingFace     = "Checking your face, please wait..."
	msgFaceNotFound     = "Can not recognize your face. Please try again."
	msgCodeSent         = "I have sent a code to log you in. Please show your code to the camera and say 'shoot'."
	msgDetectingCode    = "Detecting your OTP code, please wait..."
	msgCodeNotDetected  = "Can't detect OTP code, please try again."
	msgCodeRejected     = `The code is not correct. Look at the camera and say "shoot" to login again.`
	msgLoggedIn         = "Logged in successfully."
	msgNotUnderstood    = "Sorry, I can't help with that."
	msgMicUnavailable   = "I can't access the microphone."
	msgCameraFailed     = "I can't take a picture."
	msgAudioFailed      = "Sorry, I could not process what you said."
	msgResolverFailed   = "I can't reach the assistant."
	msgAddPatientFailed = "Error while adding patient."
	msgCheckPatientErr  = "Error when checking patient."
	msgGetPatientErr    = "Error when getting patient info."
	msgCheckUserErr     = "Error when checking user."
	msgLoginErr         = "Error while logging you in."
	msgDetectCodeErr    = "Error when detecting otp code."
	msgVerifyCodeErr    = "Error when checking your code."

	suffixClinic = " What would you like to do ?"
	suffixLogin  = " Please try again."
)

func clinicWelcome(name string) string {
	return fmt.Sprintf(`Welcome %s. You can "add patient" or "check patient". What would you like to do ?`, name)
}

func patientAdded(name string) string {
	return fmt.Sprintf(`Patient "%s" added successfully. What would you like to do ?`, name)
}

func patientAllergy(name, allergen string, hasAllergy bool) string {
	if !hasAllergy {
		return fmt.Sprintf(`Patient "%s" has no allergy. What would you like to do ?`, name)
	}
	return fmt.Sprintf(`Patient "%s" has allergy to "%s". What would you like to do ?`, name, allergen)
}

func loggingIn(username string) string {
	return fmt.Sprintf(`Logging you in as "%s", please wait...`, username)
}

func checkingCode(formatted string) string {
	return fmt.Sprintf(`Checking your OTP code "%s" , please wait...`, formatted)
}
